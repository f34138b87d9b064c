package clk

import (
	"fmt"
	"time"
)

// Control word: fbdiv [27:16], postdiv2 [14:12], postdiv1 [10:8], refdiv [5:0].
const (
	refDivMin  = 1
	refDivMax  = 63
	fbDivMin   = 16
	fbDivMax   = 320
	postDivMax = 7

	// The reference must reach the phase detector above this frequency.
	pfdMin = 10
)

// PLLConfig is the four-integer setting of a PLL.
//
//	rate = parent * FbDiv / (RefDiv * PostDiv1 * PostDiv2)
type PLLConfig struct {
	RefDiv   uint32
	FbDiv    uint32
	PostDiv1 uint32
	PostDiv2 uint32
}

func (c PLLConfig) Encode() uint32 {
	return (c.FbDiv&0xfff)<<16 | (c.PostDiv2&0x7)<<12 | (c.PostDiv1&0x7)<<8 | c.RefDiv&0x3f
}

func DecodePLL(v uint32) PLLConfig {
	return PLLConfig{
		RefDiv:   v & 0x3f,
		FbDiv:    (v >> 16) & 0xfff,
		PostDiv1: (v >> 8) & 0x7,
		PostDiv2: (v >> 12) & 0x7,
	}
}

// Valid reports whether every field is inside the range the hardware accepts.
func (c PLLConfig) Valid() bool {
	return c.RefDiv >= refDivMin && c.RefDiv <= refDivMax &&
		c.FbDiv >= fbDivMin && c.FbDiv <= fbDivMax &&
		c.PostDiv1 >= 1 && c.PostDiv1 <= postDivMax &&
		c.PostDiv2 >= 1 && c.PostDiv2 <= postDivMax
}

// Rate computes the output for the given reference. The numerator is formed in full before
// the single truncating division. An unprogrammed (zero) divider gives 0.
func (c PLLConfig) Rate(parentRate uint64) uint64 {
	den := uint64(c.RefDiv) * uint64(c.PostDiv1) * uint64(c.PostDiv2)
	if den == 0 {
		return 0
	}
	return parentRate * uint64(c.FbDiv) / den
}

func (c PLLConfig) String() string {
	return fmt.Sprintf("refdiv=%d fbdiv=%d postdiv1=%d postdiv2=%d", c.RefDiv, c.FbDiv, c.PostDiv1, c.PostDiv2)
}

// Every (postdiv1, postdiv2) product above 7 the hardware is driven with, ascending.
// Each row is {postdiv2, postdiv1, postdiv1*postdiv2}. The entries are the vendor's choice
// of factor pairs and are kept as they are.
var postDivTable = [...][3]uint32{
	{2, 4, 8}, {3, 3, 9}, {2, 5, 10}, {2, 6, 12},
	{2, 7, 14}, {3, 5, 15}, {4, 4, 16}, {3, 6, 18},
	{4, 5, 20}, {3, 7, 21}, {4, 6, 24}, {5, 5, 25},
	{4, 7, 28}, {5, 6, 30}, {5, 7, 35}, {6, 6, 36},
	{6, 7, 42}, {7, 7, 49},
}

// postDivs splits a wanted post-divider product into the two hardware factors.
func postDivs(product uint64) (p1, p2 uint32, ok bool) {
	if product == 0 {
		return 0, 0, false
	}
	if product <= postDivMax {
		return uint32(product), 1, true
	}
	for _, e := range postDivTable {
		if uint64(e[2]) >= product {
			return e[1], e[0], true
		}
	}
	return 0, 0, false
}

// pllSearch walks every (refdiv, fbdiv) pair looking for the setting closest to a rate.
type pllSearch struct {
	limits PLLLimits
	// evaluated counts candidates that got as far as a full rate computation.
	evaluated int
}

func (s *pllSearch) run(req, parentRate uint64) (best PLLConfig, bestRate uint64, found bool) {
	if req == 0 {
		return best, 0, false
	}
	for refdiv := uint64(refDivMin); refdiv <= refDivMax; refdiv++ {
		fref := parentRate / refdiv
		if fref <= pfdMin {
			continue
		}
		for fbdiv := uint64(fbDivMin); fbdiv <= fbDivMax; fbdiv++ {
			vco := parentRate * fbdiv / refdiv
			if vco < s.limits.VCOMin || vco > s.limits.VCOMax {
				continue
			}
			p1, p2, ok := postDivs((fref*fbdiv + req/2) / req)
			if !ok {
				continue
			}
			c := PLLConfig{RefDiv: uint32(refdiv), FbDiv: uint32(fbdiv), PostDiv1: p1, PostDiv2: p2}
			s.evaluated++
			rate := c.Rate(parentRate)
			if rate < s.limits.OutMin || rate > s.limits.OutMax {
				continue
			}
			if !found || absDiff(rate, req) < absDiff(bestRate, req) {
				best, bestRate, found = c, rate, true
				if rate == req {
					return best, bestRate, true
				}
			}
		}
	}
	return best, bestRate, found
}

type PLLState int

const (
	PLLDisabled PLLState = iota
	PLLLocking
	PLLUpdating
	PLLEnabled
)

func (s PLLState) String() string {
	switch s {
	case PLLDisabled:
		return "disabled"
	case PLLLocking:
		return "locking"
	case PLLUpdating:
		return "updating"
	case PLLEnabled:
		return "enabled"
	}
	return "unknown"
}

type pll struct {
	nodeBase
	bus   *bus
	desc  PLLDesc
	opts  *Options
	state PLLState
}

func newPLL(b nodeBase, d *PLLDesc, bs *bus, opts *Options) (*pll, error) {
	if len(b.parents) != 1 {
		return nil, configErrorf("pll %s needs exactly one parent, has %d", b.name, len(b.parents))
	}
	for _, s := range []uint8{d.LockShift, d.UpdatingShift, d.EnableShift} {
		if s > 31 {
			return nil, configErrorf("pll %s has status/enable bit %d beyond 32 bits", b.name, s)
		}
	}
	p := &pll{nodeBase: b, bus: bs, desc: *d, opts: opts}
	if p.enabled() {
		p.state = PLLEnabled
	}
	return p, nil
}

func (p *pll) parent() int {
	return p.parents[0]
}

func (p *pll) config() PLLConfig {
	return DecodePLL(p.bus.read(p.desc.CtrlOffset))
}

func (p *pll) recalcRate(parentRate uint64) uint64 {
	return p.config().Rate(parentRate)
}

func (p *pll) checkRequest(rate uint64) error {
	l := p.opts.Limits
	if rate < l.OutMin || rate > l.OutMax {
		return errorsf(ErrInvalidRequest, "%s: %d Hz is outside the PLL output band [%d, %d]", p.name, rate, l.OutMin, l.OutMax)
	}
	return nil
}

func (p *pll) roundRate(_ *Graph, rate, parentRate uint64) (uint64, error) {
	if err := p.checkRequest(rate); err != nil {
		return 0, err
	}
	s := pllSearch{limits: p.opts.Limits}
	_, r, ok := s.run(rate, parentRate)
	if !ok {
		return 0, errorsf(ErrSearchExhausted, "%s: %d Hz from %d Hz", p.name, rate, parentRate)
	}
	return r, nil
}

// setRate reprograms the PLL: disable, write the control word, wait for lock, enable.
func (p *pll) setRate(_ *Graph, rate, parentRate uint64) error {
	if p.readOnly() {
		return errorsf(ErrReadOnly, "%s", p.name)
	}
	if err := p.checkRequest(rate); err != nil {
		return err
	}
	s := pllSearch{limits: p.opts.Limits}
	cfg, got, ok := s.run(rate, parentRate)

	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if !ok {
		p.searchFailedLocked(rate)
		return errorsf(ErrSearchExhausted, "%s: %d Hz from %d Hz", p.name, rate, parentRate)
	}
	p.disableLocked()
	p.bus.write(p.desc.CtrlOffset, cfg.Encode())
	p.enableLocked()
	p.bus.log.Printf("%s: set %d Hz (%v), wanted %d Hz", p.name, got, cfg, rate)
	return nil
}

func (p *pll) searchFailed(rate uint64) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.searchFailedLocked(rate)
}

func (p *pll) searchFailedLocked(rate uint64) {
	if p.opts.PLLFailure == LeaveDisabled && !p.readOnly() {
		p.disableLocked()
		p.bus.log.Printf("%s: no PLL setting for %d Hz, left disabled", p.name, rate)
		return
	}
	p.bus.log.Printf("%s: no PLL setting for %d Hz, left %v", p.name, rate, p.state)
}

func (p *pll) disableLocked() {
	p.bus.update(p.desc.EnableOffset, 1<<p.desc.EnableShift, 0)
	p.state = PLLDisabled
}

// enableLocked waits for lock and for the update to finish, then sets the enable bit.
// A PLL that never settles is still enabled; the wait only logs.
func (p *pll) enableLocked() {
	p.state = PLLLocking
	if !p.waitStatus(p.desc.LockShift, true) {
		p.bus.log.Printf("%s: not locked after %v: %v", p.name, p.opts.LockTimeout, ErrHardwareTimeout)
	}
	p.state = PLLUpdating
	if !p.waitStatus(p.desc.UpdatingShift, false) {
		p.bus.log.Printf("%s: still updating after %v: %v", p.name, p.opts.LockTimeout, ErrHardwareTimeout)
	}
	p.bus.update(p.desc.EnableOffset, 1<<p.desc.EnableShift, 1<<p.desc.EnableShift)
	p.state = PLLEnabled
}

func (p *pll) waitStatus(shift uint8, want bool) bool {
	deadline := time.Now().Add(p.opts.LockTimeout)
	for {
		set := (p.bus.read(p.desc.StatusOffset)>>shift)&1 == 1
		if set == want {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(p.opts.PollInterval)
	}
}

func (p *pll) setEnabled(on bool) error {
	if p.readOnly() {
		return errorsf(ErrReadOnly, "%s", p.name)
	}
	if !on && p.flags&FlagCritical != 0 {
		return errorsf(ErrInvalidRequest, "%s is critical", p.name)
	}
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if on {
		p.enableLocked()
	} else {
		p.disableLocked()
	}
	return nil
}

func (p *pll) enabled() bool {
	return (p.bus.read(p.desc.EnableOffset)>>p.desc.EnableShift)&1 == 1
}
