package regmap

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Jon-Bright/clktree/clk"
)

func TestSimReadsBack(t *testing.T) {
	s := NewSim(0)
	s.Load(map[uint32]uint32{0x10: 0xabcd})
	if got := s.Read(0x10); got != 0xabcd {
		t.Errorf("Loaded value incorrect, got: %#x, want 0xabcd", got)
	}
	s.Write(0x14, 7)
	if got := s.Read(0x14); got != 7 {
		t.Errorf("Written value incorrect, got: %d, want 7", got)
	}
	if got := s.Read(0x18); got != 0 {
		t.Errorf("Untouched register incorrect, got: %d, want 0", got)
	}
}

func TestSimPLLSettles(t *testing.T) {
	d := clk.PLLDesc{StatusOffset: 0, EnableOffset: 4, CtrlOffset: 0x28, LockShift: 8, UpdatingShift: 0, EnableShift: 0}
	s := NewSim(2)
	s.WatchPLL(d)
	locked := func() (bool, bool) {
		v := s.Read(d.StatusOffset)
		return v&(1<<d.LockShift) != 0, v&(1<<d.UpdatingShift) != 0
	}
	if l, u := locked(); !l || u {
		t.Errorf("Initial status incorrect, got: locked %v updating %v, want true false", l, u)
	}
	s.Write(d.CtrlOffset, 0x500101)
	for i := 0; i < 2; i++ {
		if l, u := locked(); l || !u {
			t.Errorf("Status read %d incorrect, got: locked %v updating %v, want false true", i, l, u)
		}
	}
	if l, u := locked(); !l || u {
		t.Errorf("Settled status incorrect, got: locked %v updating %v, want true false", l, u)
	}
}

func TestSimPLLNeverSettles(t *testing.T) {
	d := clk.PLLDesc{StatusOffset: 0, CtrlOffset: 0x28, LockShift: 11, UpdatingShift: 3}
	s := NewSim(-1)
	s.WatchPLL(d)
	s.Write(d.CtrlOffset, 1)
	for i := 0; i < 100; i++ {
		if s.Read(0)&(1<<11) != 0 {
			t.Fatalf("PLL locked after %d reads", i)
		}
	}
}

func TestBanked(t *testing.T) {
	a, b := NewSim(0), NewSim(0)
	p := NewBanked(a, b)
	p.Write(BankOffset(1, 0x20), 5)
	p.Write(BankOffset(0, 0x20), 3)
	if got := b.Read(0x20); got != 5 {
		t.Errorf("Bank 1 incorrect, got: %d, want 5", got)
	}
	if got := a.Read(0x20); got != 3 {
		t.Errorf("Bank 0 incorrect, got: %d, want 3", got)
	}
	if got := p.Read(BankOffset(1, 0x20)); got != 5 {
		t.Errorf("Banked read incorrect, got: %d, want 5", got)
	}
	if got := p.Read(BankOffset(7, 0)); got != 0 {
		t.Errorf("Unmapped bank read incorrect, got: %d, want 0", got)
	}
}

func TestRecorder(t *testing.T) {
	var trace bytes.Buffer
	r := NewRecorder(NewSim(0), log.New(&trace, "", 0))
	r.Write(0x40, 1)
	r.Read(0x40)
	r.Write(0x44, 2)
	want := []Access{{true, 0x40, 1}, {true, 0x44, 2}}
	got := r.Accesses()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Accesses incorrect, got: %v, want %v", got, want)
	}
	if n := strings.Count(trace.String(), "\n"); n != 2 {
		t.Errorf("Trace lines incorrect, got: %d, want 2", n)
	}

	r.Reset()
	r.Reads = true
	r.Read(0x40)
	r.Write(0x40, 9)
	if got := r.Accesses(); len(got) != 2 || got[0].Write || got[0].Value != 1 {
		t.Errorf("Accesses with reads incorrect, got: %v", got)
	}
	if got := r.Writes(); len(got) != 1 || got[0].Value != 9 {
		t.Errorf("Writes incorrect, got: %v", got)
	}
}

func TestMMIOOverFile(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, 3*os.Getpagesize()), 0600); err != nil {
		t.Fatalf("Couldn't create backing file: %v", err)
	}
	base := uintptr(os.Getpagesize() + 0x40)
	m, err := MapFile(path, "test", base, 0x20)
	if err != nil {
		t.Fatalf("MapFile failed: %v", err)
	}
	m.Write(0x8, 0xdeadbeef)
	if got := m.Read(0x8); got != 0xdeadbeef {
		t.Errorf("Read incorrect, got: %#x, want 0xdeadbeef", got)
	}
	if got := m.Read(0x40); got != 0 {
		t.Errorf("Out-of-block read incorrect, got: %#x, want 0", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Couldn't read backing file: %v", err)
	}
	if got := binary.LittleEndian.Uint32(b[base+0x8:]); got != 0xdeadbeef {
		t.Errorf("Backing file incorrect, got: %#x, want 0xdeadbeef", got)
	}
}

func TestMapRejectsBadGeometry(t *testing.T) {
	if _, err := MapFile("/nonexistent", "test", 0, 6); err == nil {
		t.Errorf("Odd size accepted")
	}
	if _, err := MapFile("/nonexistent", "test", 2, 8); err == nil {
		t.Errorf("Unaligned address accepted")
	}
}
