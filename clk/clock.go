package clk

import (
	"fmt"
)

// Clock is a handle on one node of a Graph. Handles are cheap and compare equal only by
// pointer; use ID or Name to identify a clock.
type Clock struct {
	g   *Graph
	idx int
}

func (c *Clock) n() node {
	return c.g.nodes[c.idx]
}

func (c *Clock) ID() int {
	return c.n().base().id
}

func (c *Clock) Name() string {
	return c.n().base().name
}

func (c *Clock) Kind() Kind {
	return c.n().base().kind
}

func (c *Clock) Flags() Flags {
	return c.n().base().flags
}

// Rate is recomputed from the hardware on every call.
func (c *Clock) Rate() uint64 {
	return c.g.rate(c.idx)
}

// RoundRate reports the rate SetRate(rate) would produce, without writing anything.
func (c *Clock) RoundRate(rate uint64) (uint64, error) {
	c.g.setMu.Lock()
	defer c.g.setMu.Unlock()
	return c.g.roundRate(c.idx, rate)
}

// SetRate programs the clock (or, for pass-through clocks that allow it, its parent) as close
// to rate as the hardware can get. Listeners on the changed clock are told before and after.
func (c *Clock) SetRate(rate uint64) error {
	c.g.setMu.Lock()
	defer c.g.setMu.Unlock()
	return c.g.setRate(c.idx, rate)
}

func (c *Clock) Enable() error {
	return c.n().setEnabled(true)
}

func (c *Clock) Disable() error {
	return c.n().setEnabled(false)
}

func (c *Clock) IsEnabled() bool {
	return c.n().enabled()
}

// Parent is the active parent, nil for a root.
func (c *Clock) Parent() *Clock {
	p := c.n().parent()
	if p < 0 {
		return nil
	}
	return c.g.handle(p)
}

// Parents lists every possible parent in selection order.
func (c *Clock) Parents() []*Clock {
	var ps []*Clock
	for _, p := range c.n().base().parents {
		ps = append(ps, c.g.handle(p))
	}
	return ps
}

// SetParent switches a mux to the named source.
func (c *Clock) SetParent(name string) error {
	m, ok := c.n().(*mux)
	if !ok {
		return errorsf(ErrInvalidRequest, "%s is a %v, not a mux", c.Name(), c.Kind())
	}
	c.g.setMu.Lock()
	defer c.g.setMu.Unlock()
	for i, p := range m.parents {
		if c.g.nodes[p].base().name == name {
			if m.diverted {
				return errorsf(ErrInvalidRequest, "%s is parked for a rate change", c.Name())
			}
			return m.setIndex(i)
		}
	}
	return errorsf(ErrInvalidRequest, "%s can't select %s", c.Name(), name)
}

// PLLConfig decodes the control register of a PLL.
func (c *Clock) PLLConfig() (PLLConfig, bool) {
	p, ok := c.n().(*pll)
	if !ok {
		return PLLConfig{}, false
	}
	return p.config(), true
}

// PLLState is the last state a PLL was driven to. Clocks that aren't PLLs report false.
func (c *Clock) PLLState() (PLLState, bool) {
	p, ok := c.n().(*pll)
	if !ok {
		return 0, false
	}
	c.g.bus.mu.Lock()
	defer c.g.bus.mu.Unlock()
	return p.state, true
}

// OnRateChange registers l for rate changes of this clock.
func (c *Clock) OnRateChange(l Listener) CancelFunc {
	return c.g.ls.add(c.idx, l)
}

func (c *Clock) String() string {
	return fmt.Sprintf("%s(%d)", c.Name(), c.ID())
}
