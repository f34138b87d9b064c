package topology

import (
	"bytes"
	"embed"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

//go:embed *.yaml
var builtinFS embed.FS

var builtins = map[string]*Topology{}

var ErrUnknownSoC = errors.New("unknown SoC")

const COMPATIBLE_FILE = "/proc/device-tree/compatible"

// Names lists the built-in topologies.
func Names() []string {
	n := maps.Keys(builtins)
	slices.Sort(n)
	return n
}

// Builtin returns the built-in topology for soc.
func Builtin(soc string) (*Topology, error) {
	if t, ok := builtins[soc]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownSoC, "%q (have %v)", soc, Names())
}

// Detect picks the built-in topology matching the machine's device tree.
func Detect() (*Topology, error) {
	return detect(COMPATIBLE_FILE)
}

func detect(file string) (*Topology, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read device tree compatible list")
	}
	// The property is a list of NUL-terminated strings, most specific first.
	for _, c := range bytes.Split(b, []byte{0}) {
		if len(c) == 0 {
			continue
		}
		for _, name := range Names() {
			if slices.Contains(builtins[name].Compatible, string(c)) {
				return builtins[name], nil
			}
		}
	}
	return nil, errors.Wrapf(ErrUnknownSoC, "compatible %q", bytes.ReplaceAll(bytes.TrimRight(b, "\x00"), []byte{0}, []byte(", ")))
}

func init() {
	files, err := builtinFS.ReadDir(".")
	if err != nil {
		panic(err)
	}
	for _, f := range files {
		b, err := builtinFS.ReadFile(f.Name())
		if err != nil {
			panic(err)
		}
		t, err := ParseBytes(b)
		if err != nil {
			panic(errors.Wrapf(err, "built-in topology %s", f.Name()))
		}
		builtins[t.SoC] = t
	}
}
