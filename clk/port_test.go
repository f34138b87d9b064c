package clk

import (
	"io"
	"log"
	"sync"
	"time"
)

type regWrite struct {
	off, val uint32
}

// fakePort is a register file that remembers every write.
type fakePort struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	writes []regWrite
}

func newFakePort(init map[uint32]uint32) *fakePort {
	p := &fakePort{regs: map[uint32]uint32{}}
	for k, v := range init {
		p.regs[k] = v
	}
	return p
}

func (p *fakePort) Read(off uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[off]
}

func (p *fakePort) Write(off, val uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[off] = val
	p.writes = append(p.writes, regWrite{off, val})
}

func (p *fakePort) set(off, val uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs[off] = val
}

func (p *fakePort) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = nil
}

// writesTo returns the values written to off, in order.
func (p *fakePort) writesTo(off uint32) []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var vs []uint32
	for _, w := range p.writes {
		if w.off == off {
			vs = append(vs, w.val)
		}
	}
	return vs
}

func (p *fakePort) allWrites() []regWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]regWrite(nil), p.writes...)
}

func quietOptions() Options {
	o := DefaultOptions()
	o.Logger = log.New(io.Discard, "", 0)
	o.LockTimeout = time.Millisecond
	o.PollInterval = time.Microsecond
	return o
}

// Register map of the small tree most tests run against.
const (
	regStatus  = 0x00
	regEnable  = 0x04
	regMPLL    = 0x08
	regFPLL    = 0x0c
	regDivM    = 0x40
	regDivF    = 0x44
	regMux     = 0x60
	regGate    = 0x80
	gateBit    = 3
	oscRate    = 25 * MHz
	initialPLL = 1000 * MHz
)

// testTree is osc -> {mpll, fpll (read-only)} -> one divider each -> mux -> gate.
// The mux encodes its sources inverted and parks on fpll's divider.
func testTree() []Desc {
	oneBased := func(off uint32) *DividerDesc {
		return &DividerDesc{Offset: off, Shift: 16, Width: 5, Flags: DivOneBased, InitialValue: 1, Preset: -1}
	}
	return []Desc{
		{ID: 0, Name: "osc", Kind: KindFixed, Rate: oscRate},
		{ID: 1, Name: "mpll", Kind: KindPLL, Parents: []string{"osc"},
			PLL: &PLLDesc{StatusOffset: regStatus, EnableOffset: regEnable, CtrlOffset: regMPLL, LockShift: 8, UpdatingShift: 0, EnableShift: 0}},
		{ID: 2, Name: "fpll", Kind: KindPLL, Parents: []string{"osc"}, Flags: FlagReadOnly,
			PLL: &PLLDesc{StatusOffset: regStatus, EnableOffset: regEnable, CtrlOffset: regFPLL, LockShift: 9, UpdatingShift: 1, EnableShift: 1}},
		{ID: 3, Name: "div_mpll", Kind: KindDivider, Parents: []string{"mpll"}, Div: oneBased(regDivM)},
		{ID: 4, Name: "div_fpll", Kind: KindDivider, Parents: []string{"fpll"}, Div: oneBased(regDivF)},
		{ID: 5, Name: "mux", Kind: KindMux, Parents: []string{"div_mpll", "div_fpll"},
			Mux: &MuxDesc{Offset: regMux, Shift: 0, Width: 1, Values: []uint32{1, 0}, SafeIndex: 1}},
		{ID: 6, Name: "gate", Kind: KindGate, Parents: []string{"mux"}, Flags: FlagSetRateParent,
			Gate: &GateDesc{Offset: regGate, Bit: gateBit}},
	}
}

func testRegs() map[uint32]uint32 {
	pll1G := PLLConfig{RefDiv: 1, FbDiv: 40, PostDiv1: 1, PostDiv2: 1}.Encode()
	div1 := uint32(1<<16 | divUseValue | divReset)
	return map[uint32]uint32{
		regStatus: 1<<8 | 1<<9,
		regEnable: 1<<0 | 1<<1,
		regMPLL:   pll1G,
		regFPLL:   pll1G,
		regDivM:   div1,
		regDivF:   div1,
		regMux:    1,
		regGate:   1 << gateBit,
	}
}
