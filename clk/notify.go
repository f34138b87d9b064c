package clk

import (
	"sync"
)

type EventKind int

const (
	PreRateChange EventKind = iota
	PostRateChange
	AbortRateChange
)

func (k EventKind) String() string {
	switch k {
	case PreRateChange:
		return "pre-rate-change"
	case PostRateChange:
		return "post-rate-change"
	case AbortRateChange:
		return "abort-rate-change"
	}
	return "unknown"
}

// RateChange is delivered to listeners of Clock around a SetRate on it.
type RateChange struct {
	Kind    EventKind
	Clock   *Clock
	OldRate uint64
	NewRate uint64
}

// A Listener returning an error from a PreRateChange vetoes the change: nothing is written,
// the listeners already told get AbortRateChange, and SetRate returns the error. Errors from
// the other kinds are only logged. Listeners run while the rate change is in progress and
// must not call SetRate or SetParent themselves.
type Listener interface {
	RateChanged(ev RateChange) error
}

type ListenerFunc func(ev RateChange) error

func (f ListenerFunc) RateChanged(ev RateChange) error {
	return f(ev)
}

// CancelFunc removes a listener. Calling it more than once is harmless.
type CancelFunc func()

type subscription struct {
	id int
	l  Listener
}

type listeners struct {
	mu     sync.Mutex
	next   int
	byNode map[int][]subscription
}

func (ls *listeners) add(idx int, l Listener) CancelFunc {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.byNode == nil {
		ls.byNode = map[int][]subscription{}
	}
	id := ls.next
	ls.next++
	ls.byNode[idx] = append(ls.byNode[idx], subscription{id, l})

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			subs := ls.byNode[idx]
			for i, s := range subs {
				if s.id == id {
					ls.byNode[idx] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(ls.byNode[idx]) == 0 {
				delete(ls.byNode, idx)
			}
		})
	}
}

func (ls *listeners) snapshot(idx int) []subscription {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]subscription(nil), ls.byNode[idx]...)
}

func (ls *listeners) count(idx int) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.byNode[idx])
}

// notify delivers ev to subs in registration order. A failed PreRateChange aborts the
// listeners already told and is returned; other failures are logged.
func (g *Graph) notify(subs []subscription, ev RateChange) error {
	for i, s := range subs {
		err := s.l.RateChanged(ev)
		if err == nil {
			continue
		}
		if ev.Kind != PreRateChange {
			g.bus.log.Printf("%s: %v listener failed: %v", ev.Clock.Name(), ev.Kind, err)
			continue
		}
		abort := ev
		abort.Kind = AbortRateChange
		g.notify(subs[:i], abort)
		return errorsf(err, "rate change of %s vetoed", ev.Clock.Name())
	}
	return nil
}
