package clk

import (
	"log"
	"sync"
)

// bus is the register port plus the lock every multi-step register sequence is done under.
type bus struct {
	port Port
	mu   sync.Mutex
	log  *log.Logger
}

func (b *bus) read(off uint32) uint32 {
	return b.port.Read(off)
}

func (b *bus) write(off, val uint32) {
	b.port.Write(off, val)
}

// update does a read-modify-write of the bits in mask. Callers hold b.mu.
func (b *bus) update(off, mask, val uint32) {
	v := b.port.Read(off)
	v = (v &^ mask) | (val & mask)
	b.port.Write(off, v)
}

type nodeBase struct {
	id      int
	name    string
	kind    Kind
	flags   Flags
	parents []int // indices into Graph.nodes
}

func (n *nodeBase) base() *nodeBase {
	return n
}

func (n *nodeBase) readOnly() bool {
	return n.flags&FlagReadOnly != 0
}

// node is implemented once per Kind. The graph only talks to nodes through it, so a new
// kind doesn't compile until it answers every operation.
type node interface {
	base() *nodeBase
	// parent is the index of the active parent, or -1 for a root.
	parent() int
	recalcRate(parentRate uint64) uint64
	roundRate(g *Graph, rate, parentRate uint64) (uint64, error)
	setRate(g *Graph, rate, parentRate uint64) error
	setEnabled(on bool) error
	enabled() bool
}

// fixed is a reference oscillator: no registers, a constant rate.
type fixed struct {
	nodeBase
	rate uint64
}

func (f *fixed) parent() int {
	return -1
}

func (f *fixed) recalcRate(uint64) uint64 {
	return f.rate
}

func (f *fixed) roundRate(_ *Graph, _, _ uint64) (uint64, error) {
	return f.rate, nil
}

func (f *fixed) setRate(_ *Graph, rate, _ uint64) error {
	if rate != f.rate {
		return errorsf(ErrInvalidRequest, "%s runs at a fixed %d Hz", f.name, f.rate)
	}
	return nil
}

func (f *fixed) setEnabled(bool) error {
	return nil
}

func (f *fixed) enabled() bool {
	return true
}

func divRoundUp(n, d uint64) uint64 {
	return (n + d - 1) / d
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
