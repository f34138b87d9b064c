package regmap

import (
	"fmt"
	"log"
	"sync"

	"github.com/Jon-Bright/clktree/clk"
)

type Access struct {
	Write  bool
	Offset uint32
	Value  uint32
}

func (a Access) String() string {
	if a.Write {
		return fmt.Sprintf("W %#05x <- %#08x", a.Offset, a.Value)
	}
	return fmt.Sprintf("R %#05x -> %#08x", a.Offset, a.Value)
}

// Recorder passes every access through to another port and remembers it. Reads are only kept
// when Reads is set. If trace is non-nil every kept access is also logged to it.
type Recorder struct {
	Reads bool

	port  clk.Port
	trace *log.Logger
	mu    sync.Mutex
	log   []Access
}

func NewRecorder(p clk.Port, trace *log.Logger) *Recorder {
	return &Recorder{port: p, trace: trace}
}

func (r *Recorder) add(a Access) {
	r.mu.Lock()
	r.log = append(r.log, a)
	r.mu.Unlock()
	if r.trace != nil {
		r.trace.Print(a)
	}
}

func (r *Recorder) Read(off uint32) uint32 {
	v := r.port.Read(off)
	if r.Reads {
		r.add(Access{Offset: off, Value: v})
	}
	return v
}

func (r *Recorder) Write(off, val uint32) {
	r.port.Write(off, val)
	r.add(Access{Write: true, Offset: off, Value: val})
}

// Accesses returns everything recorded since the last Reset.
func (r *Recorder) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Access(nil), r.log...)
}

func (r *Recorder) Writes() []Access {
	var ws []Access
	for _, a := range r.Accesses() {
		if a.Write {
			ws = append(ws, a)
		}
	}
	return ws
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}
