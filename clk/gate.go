package clk

// gate switches a clock on and off. Its rate is always its parent's, whether enabled or not.
type gate struct {
	nodeBase
	bus *bus
	d   GateDesc
}

func newGate(b nodeBase, d *GateDesc, bs *bus) (*gate, error) {
	if len(b.parents) != 1 {
		return nil, configErrorf("gate %s needs exactly one parent, has %d", b.name, len(b.parents))
	}
	if d.Bit > 31 {
		return nil, configErrorf("gate %s: bit %d beyond 32 bits", b.name, d.Bit)
	}
	return &gate{nodeBase: b, bus: bs, d: *d}, nil
}

func (g *gate) parent() int {
	return g.parents[0]
}

func (g *gate) recalcRate(parentRate uint64) uint64 {
	return parentRate
}

func (g *gate) roundRate(gr *Graph, rate, parentRate uint64) (uint64, error) {
	if g.flags&FlagSetRateParent != 0 {
		return gr.roundRate(g.parent(), rate)
	}
	return parentRate, nil
}

func (g *gate) setRate(gr *Graph, rate, parentRate uint64) error {
	if g.flags&FlagSetRateParent != 0 {
		return gr.setRate(g.parent(), rate)
	}
	if rate != parentRate {
		return errorsf(ErrInvalidRequest, "%s can't change rate on its own", g.name)
	}
	return nil
}

func (g *gate) setEnabled(on bool) error {
	if !on && g.flags&FlagCritical != 0 {
		return errorsf(ErrInvalidRequest, "%s is critical", g.name)
	}
	g.bus.mu.Lock()
	defer g.bus.mu.Unlock()
	bit := uint32(1) << g.d.Bit
	if on {
		g.bus.update(g.d.Offset, bit, bit)
	} else {
		g.bus.update(g.d.Offset, bit, 0)
	}
	return nil
}

func (g *gate) enabled() bool {
	return g.bus.read(g.d.Offset)&(1<<g.d.Bit) != 0
}
