package clk

import (
	"testing"

	"github.com/pkg/errors"
)

func muxNode(t *testing.T, g *Graph) *mux {
	t.Helper()
	c, err := g.Lookup("mux")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	return g.nodes[c.idx].(*mux)
}

func TestMuxInvertedValues(t *testing.T) {
	g, err := New(newFakePort(testRegs()), testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mx, _ := g.Lookup("mux")
	if got := mx.Parent().Name(); got != "div_mpll" {
		t.Errorf("Parent incorrect, got: %s, want div_mpll", got)
	}
	if got := mx.Rate(); got != initialPLL {
		t.Errorf("Rate incorrect, got: %d, want %d", got, initialPLL)
	}
}

func TestMuxNotifyRoundTrip(t *testing.T) {
	p := newFakePort(testRegs())
	g, err := New(p, testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := muxNode(t, g)
	mpll, _ := g.Lookup("mpll")
	ev := RateChange{Kind: PreRateChange, Clock: mpll, OldRate: initialPLL, NewRate: 2000 * MHz}

	if err := m.rateChanged(g, ev); err != nil {
		t.Fatalf("Pre failed: %v", err)
	}
	if got := m.index(); got != 1 {
		t.Errorf("Index after pre incorrect, got: %d, want 1", got)
	}
	if got := p.Read(regMux); got != 0 {
		t.Errorf("Register after pre incorrect, got: %d, want 0", got)
	}
	ev.Kind = PostRateChange
	if err := m.rateChanged(g, ev); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if got := m.index(); got != 0 {
		t.Errorf("Index after post incorrect, got: %d, want 0", got)
	}
	if got := p.Read(regMux); got != 1 {
		t.Errorf("Register after post incorrect, got: %d, want 1", got)
	}
}

func TestMuxNotifyOtherSourceIsNoop(t *testing.T) {
	regs := testRegs()
	regs[regMux] = 0 // div_fpll
	p := newFakePort(regs)
	g, err := New(p, testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := muxNode(t, g)
	mpll, _ := g.Lookup("mpll")
	for _, k := range []EventKind{PreRateChange, PostRateChange} {
		if err := m.rateChanged(g, RateChange{Kind: k, Clock: mpll}); err != nil {
			t.Fatalf("%v failed: %v", k, err)
		}
		if got := m.index(); got != 1 {
			t.Errorf("Index after %v incorrect, got: %d, want 1", k, got)
		}
	}
	if w := p.writesTo(regMux); len(w) != 0 {
		t.Errorf("Mux register written: %v", w)
	}
}

func TestMuxDoublePreRefused(t *testing.T) {
	g, err := New(newFakePort(testRegs()), testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m := muxNode(t, g)
	mpll, _ := g.Lookup("mpll")
	ev := RateChange{Kind: PreRateChange, Clock: mpll}
	if err := m.rateChanged(g, ev); err != nil {
		t.Fatalf("Pre failed: %v", err)
	}
	if err := m.rateChanged(g, ev); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Second pre error incorrect, got: %v, want %v", err, ErrInvalidRequest)
	}
}

func TestMuxParksDuringPLLChange(t *testing.T) {
	p := newFakePort(testRegs())
	g, err := New(p, testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mpll, _ := g.Lookup("mpll")
	mx, _ := g.Lookup("mux")
	var seen []string
	mpll.OnRateChange(ListenerFunc(func(ev RateChange) error {
		seen = append(seen, ev.Kind.String()+":"+mx.Parent().Name())
		return nil
	}))
	p.reset()
	if err := mpll.SetRate(2000 * MHz); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	want := []string{"pre-rate-change:div_fpll", "post-rate-change:div_mpll"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("Events incorrect, got: %v, want %v", seen, want)
	}
	w := p.writesTo(regMux)
	if len(w) != 2 || w[0] != 0 || w[1] != 1 {
		t.Errorf("Mux writes incorrect, got: %v, want [0 1]", w)
	}
	if got := mx.Rate(); got != 2000*MHz {
		t.Errorf("Mux rate incorrect, got: %d, want %d", got, 2000*MHz)
	}
}

func TestMuxRestoredOnVeto(t *testing.T) {
	p := newFakePort(testRegs())
	g, err := New(p, testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mpll, _ := g.Lookup("mpll")
	mx, _ := g.Lookup("mux")
	errVeto := errors.New("not now")
	var aborted bool
	mpll.OnRateChange(ListenerFunc(func(ev RateChange) error {
		switch ev.Kind {
		case PreRateChange:
			return errVeto
		case AbortRateChange:
			aborted = true
		}
		return nil
	}))
	err = mpll.SetRate(2000 * MHz)
	if !errors.Is(err, errVeto) {
		t.Errorf("SetRate error incorrect, got: %v, want %v", err, errVeto)
	}
	if aborted {
		t.Errorf("Vetoing listener was sent an abort")
	}
	if got := mpll.Rate(); got != initialPLL {
		t.Errorf("Rate incorrect, got: %d, want %d", got, initialPLL)
	}
	if got := mx.Parent().Name(); got != "div_mpll" {
		t.Errorf("Parent incorrect, got: %s, want div_mpll", got)
	}
	if w := p.writesTo(regMPLL); len(w) != 0 {
		t.Errorf("Vetoed change wrote the PLL: %v", w)
	}
}

func TestMuxSetRateReparents(t *testing.T) {
	g, err := New(newFakePort(testRegs()), testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mpll, _ := g.Lookup("mpll")
	mx, _ := g.Lookup("mux")
	if err := mpll.SetRate(2000 * MHz); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if got, err := mx.RoundRate(900 * MHz); err != nil || got != initialPLL {
		t.Errorf("RoundRate incorrect, got: %d, %v, want %d, nil", got, err, initialPLL)
	}
	if err := mx.SetRate(900 * MHz); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if got := mx.Parent().Name(); got != "div_fpll" {
		t.Errorf("Parent incorrect, got: %s, want div_fpll", got)
	}
}

func TestMuxNoReparent(t *testing.T) {
	descs := testTree()
	descs[5].Flags = FlagNoReparent
	g, err := New(newFakePort(testRegs()), descs, quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mpll, _ := g.Lookup("mpll")
	mx, _ := g.Lookup("mux")
	if err := mpll.SetRate(2000 * MHz); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if got, err := mx.RoundRate(initialPLL); err != nil || got != 2000*MHz {
		t.Errorf("RoundRate incorrect, got: %d, %v, want %d, nil", got, err, 2000*MHz)
	}
	if err := mx.SetRate(initialPLL); err != nil {
		t.Errorf("SetRate failed: %v", err)
	}
	if got := mx.Parent().Name(); got != "div_mpll" {
		t.Errorf("Parent incorrect, got: %s, want div_mpll", got)
	}
}

func TestMuxSetParent(t *testing.T) {
	p := newFakePort(testRegs())
	g, err := New(p, testTree(), quietOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mx, _ := g.Lookup("mux")
	if err := mx.SetParent("div_fpll"); err != nil {
		t.Fatalf("SetParent failed: %v", err)
	}
	if got := p.Read(regMux); got != 0 {
		t.Errorf("Register incorrect, got: %d, want 0", got)
	}
	if err := mx.SetParent("osc"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("SetParent(osc) error incorrect, got: %v, want %v", err, ErrInvalidRequest)
	}
	mpll, _ := g.Lookup("mpll")
	if err := mpll.SetParent("osc"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("SetParent on a PLL error incorrect, got: %v, want %v", err, ErrInvalidRequest)
	}
}

func TestMuxConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		d    MuxDesc
	}{
		{"value too wide", MuxDesc{Offset: regMux, Width: 1, Values: []uint32{0, 2}}},
		{"duplicate value", MuxDesc{Offset: regMux, Width: 1, Values: []uint32{1, 1}}},
		{"value count", MuxDesc{Offset: regMux, Width: 1, Values: []uint32{0}}},
		{"safe index", MuxDesc{Offset: regMux, Width: 1, SafeIndex: 2}},
	}
	for _, tc := range tests {
		descs := testTree()
		d := tc.d
		descs[5].Mux = &d
		if _, err := New(newFakePort(testRegs()), descs, quietOptions()); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: error incorrect, got: %v, want %v", tc.name, err, ErrConfiguration)
		}
	}
}
