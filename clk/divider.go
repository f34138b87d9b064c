package clk

import (
	"math/bits"
)

const (
	// divReset low holds the divider in reset; the factor is sampled when it goes high.
	divReset = 1 << 0
	// divUseValue selects the programmed factor over the hardware's reset factor.
	divUseValue = 1 << 3
)

type divider struct {
	nodeBase
	bus *bus
	d   DividerDesc
}

func newDivider(b nodeBase, d *DividerDesc, bs *bus) (*divider, error) {
	if len(b.parents) != 1 {
		return nil, configErrorf("divider %s needs exactly one parent, has %d", b.name, len(b.parents))
	}
	if d.Width == 0 || int(d.Shift)+int(d.Width) > 32 {
		return nil, configErrorf("divider %s: field [%d, %d) doesn't fit a 32-bit register", b.name, d.Shift, int(d.Shift)+int(d.Width))
	}
	if d.Flags&DivHiwordMask != 0 && int(d.Shift)+int(d.Width) > 16 {
		return nil, configErrorf("divider %s: hiword-mask field [%d, %d) exceeds the low 16 bits", b.name, d.Shift, int(d.Shift)+int(d.Width))
	}
	if d.InitialValue == 0 {
		return nil, configErrorf("divider %s has no initial value", b.name)
	}
	dv := &divider{nodeBase: b, bus: bs, d: *d}
	if dv.usesTable() && len(d.Table) == 0 {
		bs.log.Printf("%s: table divider with an empty table, rate requests will fail", b.name)
	}
	return dv, nil
}

func (d *divider) parent() int {
	return d.parents[0]
}

func (d *divider) mask() uint32 {
	return uint32(1)<<d.d.Width - 1
}

func (d *divider) field(v uint32) uint32 {
	return (v >> d.d.Shift) & d.mask()
}

func (d *divider) usesTable() bool {
	return d.d.Flags&(DivOneBased|DivPowerOfTwo|DivMaxAtZero) == 0 && d.d.Table != nil
}

// divisor decodes a raw field value. 0 means the encoding gives no divisor for it.
func (d *divider) divisor(val uint32) uint32 {
	f := d.d.Flags
	switch {
	case f&DivOneBased != 0:
		return val
	case f&DivPowerOfTwo != 0:
		if val > 31 {
			return 0
		}
		return 1 << val
	case f&DivMaxAtZero != 0:
		if val == 0 {
			return d.mask() + 1
		}
		return val
	case d.usesTable():
		for _, e := range d.d.Table {
			if e.Val == val {
				return e.Div
			}
		}
		return 0
	}
	return val + 1
}

// value encodes a divisor the encoding can express, clamped to the field.
func (d *divider) value(div uint32) uint32 {
	f := d.d.Flags
	var v uint32
	switch {
	case f&DivOneBased != 0:
		v = div
	case f&DivPowerOfTwo != 0:
		v = uint32(bits.TrailingZeros32(div))
	case f&DivMaxAtZero != 0:
		if div == d.mask()+1 {
			v = 0
		} else {
			v = div
		}
	case d.usesTable():
		for _, e := range d.d.Table {
			if e.Div == div {
				v = e.Val
				break
			}
		}
	default:
		v = div - 1
	}
	if v > d.mask() {
		v = d.mask()
	}
	return v
}

func (d *divider) maxDiv() uint32 {
	f := d.d.Flags
	switch {
	case f&DivOneBased != 0:
		return d.mask()
	case f&DivPowerOfTwo != 0:
		if d.mask() > 31 {
			return 1 << 31
		}
		return 1 << d.mask()
	case f&DivMaxAtZero != 0:
		return d.mask() + 1
	case d.usesTable():
		var m uint32
		for _, e := range d.d.Table {
			if e.Div > m {
				m = e.Div
			}
		}
		return m
	}
	return d.mask() + 1
}

// roundDiv rounds a wanted divisor up to the next one the field can hold.
func (d *divider) roundDiv(want uint64) (uint32, bool) {
	max := d.maxDiv()
	if max == 0 {
		return 0, false
	}
	if want < 1 {
		want = 1
	}
	if want > uint64(max) {
		want = uint64(max)
	}
	div := uint32(want)
	switch {
	case d.d.Flags&DivPowerOfTwo != 0:
		if div&(div-1) != 0 {
			div = 1 << (32 - bits.LeadingZeros32(div))
		}
	case d.usesTable():
		best := max
		for _, e := range d.d.Table {
			if e.Div >= div && e.Div < best {
				best = e.Div
			}
		}
		div = best
	}
	return div, true
}

// currentDiv is the divisor the hardware applies for register contents v.
func (d *divider) currentDiv(v uint32) uint32 {
	if v&divUseValue == 0 {
		return d.d.InitialValue
	}
	div := d.divisor(d.field(v))
	if div == 0 {
		if d.d.Flags&DivAllowZero == 0 {
			d.bus.log.Printf("%s: field %d decodes to no divisor, passing parent rate through", d.name, d.field(v))
		}
		return 1
	}
	return div
}

func (d *divider) recalcRate(parentRate uint64) uint64 {
	return divRoundUp(parentRate, uint64(d.currentDiv(d.bus.read(d.d.Offset))))
}

func (d *divider) roundRate(_ *Graph, rate, parentRate uint64) (uint64, error) {
	if d.readOnly() {
		return d.recalcRate(parentRate), nil
	}
	div, err := d.bestDiv(rate, parentRate)
	if err != nil {
		return 0, err
	}
	return divRoundUp(parentRate, uint64(div)), nil
}

func (d *divider) bestDiv(rate, parentRate uint64) (uint32, error) {
	if rate == 0 {
		return 0, errorsf(ErrInvalidRequest, "%s: rate 0", d.name)
	}
	div, ok := d.roundDiv(divRoundUp(parentRate, rate))
	if !ok {
		return 0, errorsf(ErrSearchExhausted, "%s: no divisor in table", d.name)
	}
	return div, nil
}

func (d *divider) setRate(_ *Graph, rate, parentRate uint64) error {
	if d.readOnly() {
		return errorsf(ErrReadOnly, "%s", d.name)
	}
	div, err := d.bestDiv(rate, parentRate)
	if err != nil {
		return err
	}
	val := d.value(div)
	d.program(val)
	d.bus.log.Printf("%s: divide by %d (field %d) for %d Hz", d.name, div, val, rate)
	return nil
}

// program writes a new factor. The hardware only samples the field on the reset edge, so the
// divider is held in reset, given the value, and released, all under the register lock.
func (d *divider) program(val uint32) {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	off := d.d.Offset
	fieldMask := d.mask() << d.d.Shift

	v := d.bus.read(off)
	v &^= divReset
	d.bus.write(off, v)

	if d.d.Flags&DivHiwordMask != 0 {
		v = fieldMask << 16
	} else {
		v = d.bus.read(off) &^ fieldMask
	}
	v |= (val << d.d.Shift) & fieldMask
	if !d.readOnly() {
		v |= divUseValue
	}
	d.bus.write(off, v)

	v |= divReset
	d.bus.write(off, v)
}

// applyPreset programs the build-time factor. Nothing should select this divider as a
// source before its factor has gone through program.
func (d *divider) applyPreset() {
	if d.d.Preset < 0 || d.readOnly() {
		return
	}
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	fieldMask := d.mask() << d.d.Shift
	v := d.bus.read(d.d.Offset)
	if d.d.Preset > 0 {
		v = v&^fieldMask | (uint32(d.d.Preset)<<d.d.Shift)&fieldMask | divUseValue
	} else if v&divUseValue == 0 {
		v = v&^fieldMask | (1<<d.d.Shift)&fieldMask
	} else {
		return
	}
	if d.d.Flags&DivHiwordMask != 0 {
		v |= fieldMask << 16
	}
	d.bus.write(d.d.Offset, v)
}

func (d *divider) setEnabled(bool) error {
	return nil
}

func (d *divider) enabled() bool {
	return d.bus.read(d.d.Offset)&divReset != 0
}
