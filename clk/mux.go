package clk

// mux selects one of its parents. A writable mux also steps aside while the PLL behind its
// current source is reprogrammed: on PreRateChange it moves to the safe source, on
// PostRateChange (or AbortRateChange) it moves back.
type mux struct {
	nodeBase
	bus    *bus
	d      MuxDesc
	values []uint32

	current  int
	original int
	diverted bool

	cancels []CancelFunc
}

func newMux(b nodeBase, d *MuxDesc, bs *bus) (*mux, error) {
	if len(b.parents) < 2 {
		return nil, configErrorf("mux %s needs at least two sources, has %d", b.name, len(b.parents))
	}
	if d.Width == 0 || int(d.Shift)+int(d.Width) > 32 {
		return nil, configErrorf("mux %s: field [%d, %d) doesn't fit a 32-bit register", b.name, d.Shift, int(d.Shift)+int(d.Width))
	}
	m := &mux{nodeBase: b, bus: bs, d: *d}
	mask := m.mask()
	if len(d.Values) == 0 {
		for i := range b.parents {
			m.values = append(m.values, uint32(i))
		}
	} else if len(d.Values) != len(b.parents) {
		return nil, configErrorf("mux %s has %d sources but %d register values", b.name, len(b.parents), len(d.Values))
	} else {
		m.values = append(m.values, d.Values...)
	}
	seen := map[uint32]bool{}
	for _, v := range m.values {
		if v > mask {
			return nil, configErrorf("mux %s: value %d doesn't fit a %d-bit field", b.name, v, d.Width)
		}
		if seen[v] {
			return nil, configErrorf("mux %s: value %d selects two sources", b.name, v)
		}
		seen[v] = true
	}
	if d.SafeIndex < 0 || d.SafeIndex >= len(b.parents) {
		return nil, configErrorf("mux %s: safe source %d out of range", b.name, d.SafeIndex)
	}
	m.bus.mu.Lock()
	idx := m.readIndexLocked()
	m.bus.mu.Unlock()
	if idx < 0 {
		bs.log.Printf("%s: register selects no known source, assuming source 0", b.name)
		idx = 0
	}
	m.current = idx
	return m, nil
}

func (m *mux) mask() uint32 {
	return uint32(1)<<m.d.Width - 1
}

// readIndexLocked maps the selection field back to a source index, -1 if it matches none.
func (m *mux) readIndexLocked() int {
	v := (m.bus.read(m.d.Offset) >> m.d.Shift) & m.mask()
	for i, rv := range m.values {
		if rv == v {
			return i
		}
	}
	return -1
}

func (m *mux) index() int {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	if idx := m.readIndexLocked(); idx >= 0 {
		m.current = idx
	}
	return m.current
}

func (m *mux) parent() int {
	return m.parents[m.index()]
}

func (m *mux) setIndex(i int) error {
	if m.readOnly() {
		return errorsf(ErrReadOnly, "%s", m.name)
	}
	if i < 0 || i >= len(m.parents) {
		return errorsf(ErrInvalidRequest, "%s has no source %d", m.name, i)
	}
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	m.bus.update(m.d.Offset, m.mask()<<m.d.Shift, m.values[i]<<m.d.Shift)
	m.current = i
	return nil
}

func (m *mux) recalcRate(parentRate uint64) uint64 {
	return parentRate
}

func (m *mux) canReparent() bool {
	return m.flags&(FlagNoReparent|FlagReadOnly) == 0
}

// closest picks the source whose current rate is nearest to rate.
func (m *mux) closest(g *Graph, rate uint64) (int, uint64) {
	best, bestRate := -1, uint64(0)
	for i, p := range m.parents {
		r := g.rate(p)
		if best < 0 || absDiff(r, rate) < absDiff(bestRate, rate) {
			best, bestRate = i, r
		}
	}
	return best, bestRate
}

func (m *mux) roundRate(g *Graph, rate, parentRate uint64) (uint64, error) {
	switch {
	case m.flags&FlagSetRateParent != 0:
		return g.roundRate(m.parent(), rate)
	case m.canReparent():
		_, r := m.closest(g, rate)
		return r, nil
	}
	return parentRate, nil
}

func (m *mux) setRate(g *Graph, rate, parentRate uint64) error {
	switch {
	case m.flags&FlagSetRateParent != 0:
		return g.setRate(m.parent(), rate)
	case rate == parentRate:
		return nil
	case m.canReparent():
		i, _ := m.closest(g, rate)
		if i == m.index() {
			return nil
		}
		return m.setIndex(i)
	}
	return errorsf(ErrInvalidRequest, "%s can't change rate without changing source", m.name)
}

func (m *mux) setEnabled(bool) error {
	return nil
}

func (m *mux) enabled() bool {
	return true
}

func (m *mux) rateChanged(g *Graph, ev RateChange) error {
	switch ev.Kind {
	case PreRateChange:
		if m.diverted {
			return errorsf(ErrInvalidRequest, "%s is already parked for another rate change", m.name)
		}
		cur := m.index()
		if !g.descendsFrom(m.parents[cur], ev.Clock.idx) {
			return nil
		}
		if cur != m.d.SafeIndex {
			m.bus.log.Printf("%s: switch source from %d to %d while %s changes", m.name, cur, m.d.SafeIndex, ev.Clock.Name())
			if err := m.setIndex(m.d.SafeIndex); err != nil {
				return err
			}
		}
		m.original = cur
		m.diverted = true
	case PostRateChange, AbortRateChange:
		if !m.diverted {
			return nil
		}
		m.diverted = false
		if m.index() != m.original {
			m.bus.log.Printf("%s: switch source back to %d", m.name, m.original)
			return m.setIndex(m.original)
		}
	}
	return nil
}

func (m *mux) close() {
	for _, c := range m.cancels {
		c()
	}
	m.cancels = nil
}
