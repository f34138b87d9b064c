package clk

import (
	"log"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph owns every node of one clock tree, the register lock they share and the rate-change
// listeners registered on them.
type Graph struct {
	bus  *bus
	opts Options

	// setMu serializes whole rate and parent changes, notifications included.
	setMu sync.Mutex

	nodes  []node
	byID   map[int]int
	byName map[string]int
	ls     listeners
}

// New builds the tree described by descs, which must list every parent before its children.
// On any error nothing is left registered and no graph is returned.
func New(port Port, descs []Desc, opts Options) (*Graph, error) {
	if port == nil {
		return nil, configErrorf("no register port")
	}
	def := DefaultOptions()
	if opts.Limits == (PLLLimits{}) {
		opts.Limits = def.Limits
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Limits.VCOMin > opts.Limits.VCOMax || opts.Limits.OutMin > opts.Limits.OutMax {
		return nil, configErrorf("PLL limits %+v are empty", opts.Limits)
	}

	g := &Graph{
		bus:    &bus{port: port, log: opts.Logger},
		opts:   opts,
		byID:   map[int]int{},
		byName: map[string]int{},
	}
	if err := checkTopology(descs); err != nil {
		return nil, err
	}
	for _, d := range descs {
		n, err := g.build(d)
		if err != nil {
			g.Close()
			return nil, errors.Wrapf(err, "couldn't register %s", d.Name)
		}
		idx := len(g.nodes)
		g.nodes = append(g.nodes, n)
		g.byName[d.Name] = idx
		g.byID[d.ID] = idx
	}
	for _, n := range g.nodes {
		if m, ok := n.(*mux); ok && !m.readOnly() {
			g.watchUpstream(m)
		}
	}
	g.bus.log.Printf("registered %d clocks", len(g.nodes))
	return g, nil
}

// checkTopology validates names, ids and parent references before anything is built.
func checkTopology(descs []Desc) error {
	if len(descs) == 0 {
		return configErrorf("no clocks")
	}
	pos := map[string]int{}
	ids := map[int]string{}
	for i, d := range descs {
		if d.Name == "" {
			return configErrorf("clock %d has no name", i)
		}
		if _, ok := pos[d.Name]; ok {
			return configErrorf("clock name %s used twice", d.Name)
		}
		if d.ID < 0 {
			return configErrorf("%s: negative id %d", d.Name, d.ID)
		}
		if other, ok := ids[d.ID]; ok {
			return configErrorf("%s and %s share id %d", other, d.Name, d.ID)
		}
		pos[d.Name] = i
		ids[d.ID] = d.Name
	}

	dg := multi.NewDirectedGraph()
	for i, d := range descs {
		for _, p := range d.Parents {
			j, ok := pos[p]
			if !ok {
				return configErrorf("%s: unresolved parent %s", d.Name, p)
			}
			if j == i {
				return configErrorf("%s: cyclic reference to itself", d.Name)
			}
			dg.SetLine(dg.NewLine(multi.Node(j), multi.Node(i)))
		}
	}
	if _, err := topo.Sort(dg); err != nil {
		var u topo.Unorderable
		if errors.As(err, &u) && len(u) > 0 {
			var names []string
			for _, n := range u[0] {
				names = append(names, descs[n.ID()].Name)
			}
			slices.Sort(names)
			return configErrorf("cyclic reference between %v", names)
		}
		return errors.Wrap(ErrConfiguration, err.Error())
	}

	for i, d := range descs {
		for _, p := range d.Parents {
			if pos[p] > i {
				return configErrorf("%s is listed before its parent %s", d.Name, p)
			}
		}
	}
	return nil
}

func (g *Graph) build(d Desc) (node, error) {
	b := nodeBase{id: d.ID, name: d.Name, kind: d.Kind, flags: d.Flags}
	for _, p := range d.Parents {
		b.parents = append(b.parents, g.byName[p])
	}
	switch d.Kind {
	case KindFixed:
		if len(d.Parents) != 0 {
			return nil, configErrorf("fixed clock %s can't have parents", d.Name)
		}
		if d.Rate == 0 {
			return nil, configErrorf("fixed clock %s has no rate", d.Name)
		}
		return &fixed{nodeBase: b, rate: d.Rate}, nil
	case KindPLL:
		if d.PLL == nil {
			return nil, configErrorf("pll %s has no register description", d.Name)
		}
		return newPLL(b, d.PLL, g.bus, &g.opts)
	case KindDivider:
		if d.Div == nil {
			return nil, configErrorf("divider %s has no register description", d.Name)
		}
		dv, err := newDivider(b, d.Div, g.bus)
		if err != nil {
			return nil, err
		}
		dv.applyPreset()
		return dv, nil
	case KindGate:
		if d.Gate == nil {
			return nil, configErrorf("gate %s has no register description", d.Name)
		}
		return newGate(b, d.Gate, g.bus)
	case KindMux:
		if d.Mux == nil {
			return nil, configErrorf("mux %s has no register description", d.Name)
		}
		return newMux(b, d.Mux, g.bus)
	}
	return nil, configErrorf("%s has unknown kind %d", d.Name, d.Kind)
}

// watchUpstream subscribes m to every PLL any of its sources can be fed from.
func (g *Graph) watchUpstream(m *mux) {
	seen := map[int]bool{}
	var walk func(idx int)
	walk = func(idx int) {
		if seen[idx] {
			return
		}
		seen[idx] = true
		n := g.nodes[idx]
		if _, ok := n.(*pll); ok {
			m.cancels = append(m.cancels, g.ls.add(idx, ListenerFunc(func(ev RateChange) error {
				return m.rateChanged(g, ev)
			})))
		}
		for _, p := range n.base().parents {
			walk(p)
		}
	}
	for _, p := range m.parents {
		walk(p)
	}
}

// Close drops every listener the graph registered for itself.
func (g *Graph) Close() {
	for _, n := range g.nodes {
		if m, ok := n.(*mux); ok {
			m.close()
		}
	}
}

// descendsFrom reports whether anc is idx or one of its active ancestors.
func (g *Graph) descendsFrom(idx, anc int) bool {
	for idx >= 0 {
		if idx == anc {
			return true
		}
		idx = g.nodes[idx].parent()
	}
	return false
}

func (g *Graph) parentRate(n node) uint64 {
	if p := n.parent(); p >= 0 {
		return g.rate(p)
	}
	return 0
}

// rate recomputes idx's rate from the registers of every node above it.
func (g *Graph) rate(idx int) uint64 {
	n := g.nodes[idx]
	return n.recalcRate(g.parentRate(n))
}

func (g *Graph) roundRate(idx int, rate uint64) (uint64, error) {
	n := g.nodes[idx]
	return n.roundRate(g, rate, g.parentRate(n))
}

// setRate runs with setMu held.
func (g *Graph) setRate(idx int, rate uint64) error {
	n := g.nodes[idx]
	pr := g.parentRate(n)
	old := n.recalcRate(pr)
	target, err := n.roundRate(g, rate, pr)
	if err != nil {
		if p, ok := g.nodes[g.rateOwner(idx)].(*pll); ok && errors.Is(err, ErrSearchExhausted) {
			p.searchFailed(rate)
		}
		return err
	}
	// A read-only node still refuses a request it can't meet, even when rounding lands on
	// the current rate.
	if target == old && (!n.base().readOnly() || rate == old) {
		return nil
	}
	// Refused before anyone is notified, so no mux is parked for a change that can't happen.
	if n.base().readOnly() && g.rateOwner(idx) == idx {
		return errorsf(ErrReadOnly, "%s", n.base().name)
	}

	subs := g.ls.snapshot(idx)
	ev := RateChange{Kind: PreRateChange, Clock: g.handle(idx), OldRate: old, NewRate: target}
	if err := g.notify(subs, ev); err != nil {
		return err
	}
	if err := n.setRate(g, rate, pr); err != nil {
		ev.Kind = AbortRateChange
		g.notify(subs, ev)
		return err
	}
	ev.Kind = PostRateChange
	ev.NewRate = n.recalcRate(g.parentRate(n))
	g.notify(subs, ev)
	return nil
}

// rateOwner follows set-rate-parent links from idx to the node whose own registers a rate
// change would program.
func (g *Graph) rateOwner(idx int) int {
	for {
		n := g.nodes[idx]
		switch n.(type) {
		case *gate, *mux:
			if p := n.parent(); n.base().flags&FlagSetRateParent != 0 && p >= 0 {
				idx = p
				continue
			}
		}
		return idx
	}
}

func (g *Graph) handle(idx int) *Clock {
	return &Clock{g: g, idx: idx}
}

// Get returns the clock registered under id.
func (g *Graph) Get(id int) (*Clock, error) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, errorsf(ErrNotFound, "id %d", id)
	}
	return g.handle(idx), nil
}

func (g *Graph) Lookup(name string) (*Clock, error) {
	idx, ok := g.byName[name]
	if !ok {
		return nil, errorsf(ErrNotFound, "%s", name)
	}
	return g.handle(idx), nil
}

// Clocks returns every clock in the order it was registered, parents before children.
func (g *Graph) Clocks() []*Clock {
	cs := make([]*Clock, len(g.nodes))
	for i := range g.nodes {
		cs[i] = g.handle(i)
	}
	return cs
}
