package regmap

import (
	"sync"

	"github.com/Jon-Bright/clktree/clk"
)

// Sim is an in-memory register file. Registers read back what was last written, except the
// status bits of PLLs it has been told about: after a PLL's control register is written, the
// PLL reports "not locked, updating" for the next Settle reads of its status register and then
// "locked, not updating". A negative Settle means the PLL never settles.
type Sim struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	plls   []*simPLL
	settle int
}

type simPLL struct {
	d       clk.PLLDesc
	pending int
}

func NewSim(settle int) *Sim {
	return &Sim{regs: map[uint32]uint32{}, settle: settle}
}

// Load sets register contents without disturbing any PLL.
func (s *Sim) Load(regs map[uint32]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for off, v := range regs {
		s.regs[off] = v
	}
}

// WatchPLL makes Sim emulate the status bits of the PLL described by d. It starts settled.
func (s *Sim) WatchPLL(d clk.PLLDesc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plls = append(s.plls, &simPLL{d: d})
}

func (s *Sim) Read(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.regs[off]
	for _, p := range s.plls {
		if p.d.StatusOffset != off {
			continue
		}
		lock := uint32(1) << p.d.LockShift
		upd := uint32(1) << p.d.UpdatingShift
		if p.pending != 0 {
			v = v&^lock | upd
			if p.pending > 0 {
				p.pending--
			}
		} else {
			v = v&^upd | lock
		}
	}
	return v
}

func (s *Sim) Write(off, val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[off] = val
	for _, p := range s.plls {
		if p.d.CtrlOffset == off {
			p.pending = s.settle
		}
	}
}
