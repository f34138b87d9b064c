package main

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Jon-Bright/clktree/clk"
	"github.com/Jon-Bright/clktree/regmap"
	"github.com/Jon-Bright/clktree/topology"
)

var (
	topologyFile  string
	socName       string
	simulate      bool
	simSettle     int
	memFile       string
	bankBases     map[string]string
	lockTimeout   time.Duration
	leaveDisabled bool
	traceRegs     bool
	port          int

	printer = message.NewPrinter(language.English)

	rootCmd = &cobra.Command{
		Use:          "clktree",
		Short:        "Inspect and program an SoC clock tree",
		Long:         "Inspect and program the PLLs, dividers, gates and muxes of an SoC clock tree, either directly through /dev/mem or against a simulated register file.",
		SilenceUsage: true,
	}

	treeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Print every clock with its rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(func(g *clk.Graph) error {
				return writeTree(cmd.OutOrStdout(), g)
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <clock>",
		Short: "Print a clock's rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClock(args[0], func(c *clk.Clock) error {
				fmt.Fprintln(cmd.OutOrStdout(), formatHz(c.Rate()))
				return nil
			})
		},
	}

	roundCmd = &cobra.Command{
		Use:   "round <clock> <rate>",
		Short: "Print the rate a clock would actually run at if asked for rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hz, err := parseHz(args[1])
			if err != nil {
				return err
			}
			return withClock(args[0], func(c *clk.Clock) error {
				r, err := c.RoundRate(hz)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatHz(r))
				return nil
			})
		},
	}

	setCmd = &cobra.Command{
		Use:   "set <clock> <rate>",
		Short: "Change a clock's rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hz, err := parseHz(args[1])
			if err != nil {
				return err
			}
			return withClock(args[0], func(c *clk.Clock) error {
				if err := c.SetRate(hz); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now %s\n", c.Name(), formatHz(c.Rate()))
				return nil
			})
		},
	}

	enableCmd = &cobra.Command{
		Use:   "enable <clock>",
		Short: "Ungate a clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClock(args[0], func(c *clk.Clock) error {
				return c.Enable()
			})
		},
	}

	disableCmd = &cobra.Command{
		Use:   "disable <clock>",
		Short: "Gate a clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClock(args[0], func(c *clk.Clock) error {
				return c.Disable()
			})
		},
	}

	parentCmd = &cobra.Command{
		Use:   "parent <clock> [source]",
		Short: "Print a clock's parent, or switch a mux to source (a name or an index)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClock(args[0], func(c *clk.Clock) error {
				if len(args) == 1 {
					fmt.Fprintln(cmd.OutOrStdout(), parentName(c))
					return nil
				}
				return setParent(c, args[1])
			})
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the clock tree over a line protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := openGraph()
			if err != nil {
				return err
			}
			defer g.Close()
			s, err := NewServer(port, g)
			if err != nil {
				return errors.Wrap(err, "couldn't create server")
			}
			s.handleConnections()
			return nil
		},
	}
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&topologyFile, "topology", "t", "", "YAML topology file to use instead of a built-in one")
	f.StringVar(&socName, "soc", "", "Built-in topology to use; detected from the device tree if empty (one of "+strings.Join(topology.Names(), ", ")+")")
	f.BoolVar(&simulate, "sim", false, "Drive a simulated register file instead of the hardware")
	f.IntVar(&simSettle, "sim-settle", 3, "Status reads a simulated PLL takes to lock; negative never locks")
	f.StringVar(&memFile, "mem", regmap.MEM_FILE, "The file physical memory is mapped from")
	f.StringToStringVar(&bankBases, "bank", nil, "Override a register bank's physical address, as name=0xADDR")
	f.DurationVar(&lockTimeout, "lock-timeout", clk.DefaultOptions().LockTimeout, "How long to wait for a PLL to lock")
	f.BoolVar(&leaveDisabled, "leave-disabled", false, "Leave a PLL disabled when no setting for a requested rate exists")
	f.BoolVar(&traceRegs, "trace", false, "Log every register write")
	serveCmd.Flags().IntVar(&port, "port", 24602, "The port that the server should listen to")

	rootCmd.AddCommand(treeCmd, getCmd, roundCmd, setCmd, enableCmd, disableCmd, parentCmd, serveCmd)
}

func loadTopology() (*topology.Topology, error) {
	switch {
	case topologyFile != "":
		f, err := os.Open(topologyFile)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't open topology")
		}
		defer f.Close()
		return topology.Parse(f)
	case socName != "":
		return topology.Builtin(socName)
	case simulate:
		return topology.Builtin("sg2042")
	}
	return topology.Detect()
}

func openPort(top *topology.Topology, descs []clk.Desc) (clk.Port, error) {
	if simulate {
		s := regmap.NewSim(simSettle)
		regs, err := top.SimRegisters()
		if err != nil {
			return nil, err
		}
		s.Load(regs)
		for _, d := range descs {
			if d.Kind == clk.KindPLL {
				s.WatchPLL(*d.PLL)
			}
		}
		return s, nil
	}

	for name := range bankBases {
		found := false
		for _, b := range top.Banks {
			found = found || b.Name == name
		}
		if !found {
			return nil, errors.Errorf("no bank %q in %s", name, top.SoC)
		}
	}
	banks := make([]clk.Port, len(top.Banks))
	for i, b := range top.Banks {
		base := b.Base
		if s, ok := bankBases[b.Name]; ok {
			v, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "couldn't parse address for bank %s", b.Name)
			}
			base = v
		}
		m, err := regmap.MapFile(memFile, b.Name, uintptr(base), b.Size)
		if err != nil {
			return nil, err
		}
		banks[i] = m
	}
	if len(banks) == 1 {
		return banks[0], nil
	}
	return regmap.NewBanked(banks...), nil
}

// openGraph builds the clock tree the flags describe. The register mappings live as long as
// the process does.
func openGraph() (*clk.Graph, error) {
	top, err := loadTopology()
	if err != nil {
		return nil, err
	}
	descs, err := top.Descs()
	if err != nil {
		return nil, err
	}
	p, err := openPort(top, descs)
	if err != nil {
		return nil, err
	}
	if traceRegs {
		p = regmap.NewRecorder(p, log.New(os.Stderr, "reg ", log.Lmicroseconds))
	}
	opts := clk.DefaultOptions()
	opts.LockTimeout = lockTimeout
	if leaveDisabled {
		opts.PLLFailure = clk.LeaveDisabled
	}
	log.Printf("using %s topology, %d clocks", top.SoC, len(descs))
	return clk.New(p, descs, opts)
}

func withGraph(f func(g *clk.Graph) error) error {
	g, err := openGraph()
	if err != nil {
		return err
	}
	defer g.Close()
	return f(g)
}

func withClock(name string, f func(c *clk.Clock) error) error {
	return withGraph(func(g *clk.Graph) error {
		c, err := lookupClock(g, name)
		if err != nil {
			return err
		}
		return f(c)
	})
}

// lookupClock accepts a clock name or a numeric id.
func lookupClock(g *clk.Graph, s string) (*clk.Clock, error) {
	c, err := g.Lookup(s)
	if err == nil {
		return c, nil
	}
	if id, perr := strconv.Atoi(s); perr == nil {
		return g.Get(id)
	}
	return nil, err
}

func parentName(c *clk.Clock) string {
	if p := c.Parent(); p != nil {
		return p.Name()
	}
	return "-"
}

// setParent switches c to source, given either as a parent name or as an index into its
// parent list.
func setParent(c *clk.Clock, source string) error {
	if i, err := strconv.Atoi(source); err == nil {
		ps := c.Parents()
		if i < 0 || i >= len(ps) {
			return errors.Wrapf(clk.ErrInvalidRequest, "%s has no parent %d", c.Name(), i)
		}
		source = ps[i].Name()
	}
	return c.SetParent(source)
}

var hzSuffixes = []struct {
	s string
	m uint64
}{
	{"GHz", 1000 * clk.MHz}, {"MHz", clk.MHz}, {"kHz", clk.KHz}, {"Hz", 1},
	{"G", 1000 * clk.MHz}, {"M", clk.MHz}, {"k", clk.KHz},
}

// parseHz reads a rate like "1500000000", "1.5G" or "800MHz".
func parseHz(s string) (uint64, error) {
	mult := uint64(1)
	num := s
	for _, x := range hzSuffixes {
		if strings.HasSuffix(s, x.s) {
			num, mult = strings.TrimSuffix(s, x.s), x.m
			break
		}
	}
	if v, err := strconv.ParseUint(num, 10, 64); err == nil {
		if v > math.MaxUint64/mult {
			return 0, errors.Errorf("rate %q out of range", s)
		}
		return v * mult, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Errorf("couldn't parse rate %q", s)
	}
	hz := f*float64(mult) + 0.5
	// float64(MaxUint64) rounds up to 2^64, which no longer converts.
	if hz >= math.MaxUint64 {
		return 0, errors.Errorf("rate %q out of range", s)
	}
	return uint64(hz), nil
}

func formatHz(hz uint64) string {
	return printer.Sprintf("%d Hz", hz)
}

// writeTree prints every clock under its parent, roots first.
func writeTree(w io.Writer, g *clk.Graph) error {
	children := map[string][]*clk.Clock{}
	var roots []*clk.Clock
	for _, c := range g.Clocks() {
		if p := c.Parent(); p != nil {
			children[p.Name()] = append(children[p.Name()], c)
		} else {
			roots = append(roots, c)
		}
	}
	var walk func(c *clk.Clock, depth int) error
	walk = func(c *clk.Clock, depth int) error {
		state := "on"
		if !c.IsEnabled() {
			state = "off"
		}
		line := printer.Sprintf("%s%s(%d) %s %d Hz %s", strings.Repeat("  ", depth), c.Name(), c.ID(), c.Kind(), c.Rate(), state)
		if f := c.Flags(); f != 0 {
			line += " [" + f.String() + "]"
		}
		if cfg, ok := c.PLLConfig(); ok {
			line += " " + cfg.String()
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, ch := range children[c.Name()] {
			if err := walk(ch, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := walk(r, 0); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
