package clk

import (
	"log"
	"strings"
	"time"
)

// Port is the register transport the clock tree is driven through. Reads and writes are
// individually atomic; multi-step sequences are serialized by the graph's register lock.
type Port interface {
	Read(offset uint32) uint32
	Write(offset uint32, val uint32)
}

type Kind int

const (
	KindFixed Kind = iota
	KindPLL
	KindDivider
	KindGate
	KindMux
)

var kindNames = map[Kind]string{
	KindFixed:   "fixed",
	KindPLL:     "pll",
	KindDivider: "divider",
	KindGate:    "gate",
	KindMux:     "mux",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Flags modify how a node reacts to rate and enable requests.
type Flags uint32

const (
	// FlagCritical marks an always-on clock; Disable is refused.
	FlagCritical Flags = 1 << iota
	// FlagSetRateParent makes gates and muxes pass SetRate on to their active parent.
	FlagSetRateParent
	// FlagReadOnly nodes reflect the hardware but never write it.
	FlagReadOnly
	// FlagNoReparent stops a mux from switching source to satisfy SetRate.
	FlagNoReparent
)

var flagNames = []struct {
	f Flags
	s string
}{
	{FlagCritical, "critical"},
	{FlagSetRateParent, "set-rate-parent"},
	{FlagReadOnly, "read-only"},
	{FlagNoReparent, "no-reparent"},
}

func (f Flags) String() string {
	var s []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			s = append(s, fn.s)
		}
	}
	return strings.Join(s, "|")
}

// ParseFlag maps a flag name as printed by Flags.String back to its bit.
func ParseFlag(s string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.s == s {
			return fn.f, true
		}
	}
	return 0, false
}

// DivFlags select the encoding of a divider's factor field.
type DivFlags uint8

const (
	DivOneBased DivFlags = 1 << iota
	DivPowerOfTwo
	DivMaxAtZero
	DivAllowZero
	DivHiwordMask
)

var divFlagNames = []struct {
	f DivFlags
	s string
}{
	{DivOneBased, "one-based"},
	{DivPowerOfTwo, "power-of-two"},
	{DivMaxAtZero, "max-at-zero"},
	{DivAllowZero, "allow-zero"},
	{DivHiwordMask, "hiword-mask"},
}

func (f DivFlags) String() string {
	var s []string
	for _, fn := range divFlagNames {
		if f&fn.f != 0 {
			s = append(s, fn.s)
		}
	}
	return strings.Join(s, "|")
}

func ParseDivFlag(s string) (DivFlags, bool) {
	for _, fn := range divFlagNames {
		if fn.s == s {
			return fn.f, true
		}
	}
	return 0, false
}

// Desc describes one node of the clock tree. Exactly one of Rate (for KindFixed), PLL, Div,
// Gate or Mux is meaningful, matching Kind.
type Desc struct {
	ID      int
	Name    string
	Kind    Kind
	Parents []string
	Flags   Flags

	Rate uint64
	PLL  *PLLDesc
	Div  *DividerDesc
	Gate *GateDesc
	Mux  *MuxDesc
}

// PLLDesc is the register geometry of one PLL.
type PLLDesc struct {
	StatusOffset  uint32
	EnableOffset  uint32
	CtrlOffset    uint32
	LockShift     uint8
	UpdatingShift uint8
	EnableShift   uint8
}

type DivEntry struct {
	Val uint32
	Div uint32
}

// DividerDesc is the register geometry and encoding of one divider.
type DividerDesc struct {
	Offset uint32
	Shift  uint8
	Width  uint8
	Flags  DivFlags
	Table  []DivEntry
	// InitialValue is the divisor the hardware uses while the "use configured value" bit is
	// clear. The hardware can't report it, so it must be given; zero is rejected.
	InitialValue uint32
	// Preset is programmed when the graph is built: <0 leaves the register alone, 0 seeds
	// the field with 1 if the hardware isn't using it yet, >0 writes that factor.
	Preset int32
}

type GateDesc struct {
	Offset uint32
	Bit    uint8
}

// MuxDesc is the register geometry of one mux. Values[i] selects Parents[i]; an empty
// Values means the identity mapping. SafeIndex is the source a writable mux is parked on
// while the PLL feeding its current source is reprogrammed.
type MuxDesc struct {
	Offset    uint32
	Shift     uint8
	Width     uint8
	Values    []uint32
	SafeIndex int
}

// PLLLimits bound the PLL search.
type PLLLimits struct {
	VCOMin uint64
	VCOMax uint64
	OutMin uint64
	OutMax uint64
}

const (
	KHz = 1000
	MHz = 1000 * KHz
)

var DefaultPLLLimits = PLLLimits{
	VCOMin: 800 * MHz,
	VCOMax: 3200 * MHz,
	OutMin: 16 * MHz,
	OutMax: 3200 * MHz,
}

// FailurePolicy decides what a PLL SetRate does to the hardware when the search fails.
type FailurePolicy int

const (
	// LeaveUnchanged searches before touching the PLL, so a failed search writes nothing.
	LeaveUnchanged FailurePolicy = iota
	// LeaveDisabled disables the PLL first and leaves it disabled if the search fails.
	LeaveDisabled
)

type Options struct {
	Limits       PLLLimits
	LockTimeout  time.Duration
	PollInterval time.Duration
	PLLFailure   FailurePolicy
	Logger       *log.Logger
}

func DefaultOptions() Options {
	return Options{
		Limits:       DefaultPLLLimits,
		LockTimeout:  100 * time.Millisecond,
		PollInterval: 10 * time.Microsecond,
		PLLFailure:   LeaveUnchanged,
	}
}
