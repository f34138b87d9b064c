package topology

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Jon-Bright/clktree/clk"
	"github.com/Jon-Bright/clktree/regmap"
)

var ErrInvalid = errors.New("invalid topology")

// Topology is one SoC's clock tree as written in YAML: the register blocks it lives in, its
// clocks in parent-before-child order and, optionally, register contents for the simulator.
type Topology struct {
	SoC        string                       `yaml:"soc"`
	Compatible []string                     `yaml:"compatible"`
	Banks      []Bank                       `yaml:"banks"`
	Clocks     []Clock                      `yaml:"clocks"`
	Sim        map[string]map[uint32]uint32 `yaml:"sim"`
}

// Bank is a block of registers at a physical address. Clock offsets are relative to their bank.
type Bank struct {
	Name string `yaml:"name"`
	Base uint64 `yaml:"base"`
	Size int    `yaml:"size"`
}

type Clock struct {
	Name    string   `yaml:"name"`
	ID      int      `yaml:"id"`
	Kind    string   `yaml:"kind"`
	Bank    string   `yaml:"bank"`
	Parents []string `yaml:"parents"`
	Flags   []string `yaml:"flags"`

	Rate    uint64      `yaml:"rate"`
	PLL     *PLLRegs    `yaml:"pll"`
	Divider *DividerReg `yaml:"divider"`
	Gate    *GateReg    `yaml:"gate"`
	Mux     *MuxReg     `yaml:"mux"`
}

type PLLRegs struct {
	Status        uint32 `yaml:"status"`
	Enable        uint32 `yaml:"enable"`
	Ctrl          uint32 `yaml:"ctrl"`
	LockShift     uint8  `yaml:"lock-shift"`
	UpdatingShift uint8  `yaml:"updating-shift"`
	EnableShift   uint8  `yaml:"enable-shift"`
}

type DividerReg struct {
	Offset  uint32         `yaml:"offset"`
	Shift   uint8          `yaml:"shift"`
	Width   uint8          `yaml:"width"`
	Flags   []string       `yaml:"flags"`
	Table   []clk.DivEntry `yaml:"table"`
	Initial uint32         `yaml:"initial"`
	Preset  int32          `yaml:"preset"`
}

type GateReg struct {
	Offset uint32 `yaml:"offset"`
	Bit    uint8  `yaml:"bit"`
}

type MuxReg struct {
	Offset uint32   `yaml:"offset"`
	Shift  uint8    `yaml:"shift"`
	Width  uint8    `yaml:"width"`
	Values []uint32 `yaml:"values"`
	Safe   int      `yaml:"safe"`
}

var kinds = map[string]clk.Kind{
	"fixed":   clk.KindFixed,
	"pll":     clk.KindPLL,
	"divider": clk.KindDivider,
	"gate":    clk.KindGate,
	"mux":     clk.KindMux,
}

// Parse reads a topology. Unknown keys are rejected so that typos don't silently drop geometry.
func Parse(r io.Reader) (*Topology, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t Topology
	if err := dec.Decode(&t); err != nil {
		return nil, errors.Wrapf(ErrInvalid, "couldn't decode: %v", err)
	}
	if t.SoC == "" {
		return nil, errors.Wrap(ErrInvalid, "no soc name")
	}
	seen := map[string]bool{}
	for _, b := range t.Banks {
		if b.Name == "" || seen[b.Name] {
			return nil, errors.Wrapf(ErrInvalid, "%s: bank name %q empty or reused", t.SoC, b.Name)
		}
		if b.Size <= 0 || b.Size > 1<<regmap.BankShift {
			return nil, errors.Wrapf(ErrInvalid, "%s: bank %s has size %#x", t.SoC, b.Name, b.Size)
		}
		seen[b.Name] = true
	}
	return &t, nil
}

func ParseBytes(b []byte) (*Topology, error) {
	return Parse(bytes.NewReader(b))
}

func (t *Topology) bank(name string) (int, error) {
	if name == "" && len(t.Banks) <= 1 {
		return 0, nil
	}
	for i, b := range t.Banks {
		if b.Name == name {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalid, "no bank %q", name)
}

// Descs turns the clocks into descriptors for clk.New. Offsets are combined with their bank
// number as regmap.BankOffset does, so the result is meant to be driven through a
// regmap.Banked holding the banks in the order they're listed.
func (t *Topology) Descs() ([]clk.Desc, error) {
	descs := make([]clk.Desc, 0, len(t.Clocks))
	for _, c := range t.Clocks {
		d, err := t.desc(c)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't describe %s", c.Name)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (t *Topology) desc(c Clock) (clk.Desc, error) {
	k, ok := kinds[c.Kind]
	if !ok {
		return clk.Desc{}, errors.Wrapf(ErrInvalid, "unknown kind %q", c.Kind)
	}
	d := clk.Desc{
		ID:      c.ID,
		Name:    c.Name,
		Kind:    k,
		Parents: c.Parents,
		Rate:    c.Rate,
	}
	for _, s := range c.Flags {
		f, ok := clk.ParseFlag(s)
		if !ok {
			return clk.Desc{}, errors.Wrapf(ErrInvalid, "unknown flag %q", s)
		}
		d.Flags |= f
	}
	if k == clk.KindFixed {
		return d, nil
	}

	bank, err := t.bank(c.Bank)
	if err != nil {
		return clk.Desc{}, err
	}
	off := func(o uint32) uint32 { return regmap.BankOffset(bank, o) }

	switch k {
	case clk.KindPLL:
		if c.PLL == nil {
			return clk.Desc{}, errors.Wrap(ErrInvalid, "pll without pll registers")
		}
		d.PLL = &clk.PLLDesc{
			StatusOffset:  off(c.PLL.Status),
			EnableOffset:  off(c.PLL.Enable),
			CtrlOffset:    off(c.PLL.Ctrl),
			LockShift:     c.PLL.LockShift,
			UpdatingShift: c.PLL.UpdatingShift,
			EnableShift:   c.PLL.EnableShift,
		}
	case clk.KindDivider:
		r := c.Divider
		if r == nil {
			return clk.Desc{}, errors.Wrap(ErrInvalid, "divider without divider register")
		}
		d.Div = &clk.DividerDesc{
			Offset:       off(r.Offset),
			Shift:        r.Shift,
			Width:        r.Width,
			Table:        r.Table,
			InitialValue: r.Initial,
			Preset:       r.Preset,
		}
		for _, s := range r.Flags {
			f, ok := clk.ParseDivFlag(s)
			if !ok {
				return clk.Desc{}, errors.Wrapf(ErrInvalid, "unknown divider flag %q", s)
			}
			d.Div.Flags |= f
		}
	case clk.KindGate:
		if c.Gate == nil {
			return clk.Desc{}, errors.Wrap(ErrInvalid, "gate without gate register")
		}
		d.Gate = &clk.GateDesc{Offset: off(c.Gate.Offset), Bit: c.Gate.Bit}
	case clk.KindMux:
		if c.Mux == nil {
			return clk.Desc{}, errors.Wrap(ErrInvalid, "mux without mux register")
		}
		d.Mux = &clk.MuxDesc{
			Offset:    off(c.Mux.Offset),
			Shift:     c.Mux.Shift,
			Width:     c.Mux.Width,
			Values:    c.Mux.Values,
			SafeIndex: c.Mux.Safe,
		}
	}
	return d, nil
}

// SimRegisters returns the simulator's starting register contents keyed by banked offset.
func (t *Topology) SimRegisters() (map[uint32]uint32, error) {
	regs := map[uint32]uint32{}
	for name, rs := range t.Sim {
		bank, err := t.bank(name)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't load simulator registers")
		}
		for o, v := range rs {
			regs[regmap.BankOffset(bank, o)] = v
		}
	}
	return regs, nil
}
