package gesture

import (
	"sync"
	"time"

	"panelcal/internal/clock"
	appLog "panelcal/internal/log"
)

// SettleDelay is how long the registry waits after a navigation before
// rebuilding gesture state, giving the host time to replace elements.
const SettleDelay = 100 * time.Millisecond

// Bus is the process-wide "navigation occurred" channel. Any component may
// publish or subscribe.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(path string)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(string))}
}

// Subscribe registers fn and returns a function removing it.
func (b *Bus) Subscribe(fn func(path string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish notifies every subscriber synchronously, in no particular order.
func (b *Bus) Publish(path string) {
	b.mu.Lock()
	fns := make([]func(string), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
}

// Registry tracks every Machine on the page and resets them all when the
// bus reports a navigation.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	machines map[*Machine]struct{}
	rebuild  *clock.Timer
	unsub    func()
}

// NewRegistry subscribes to bus.
func NewRegistry(bus *Bus, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	r := &Registry{clock: clk, machines: make(map[*Machine]struct{})}
	r.unsub = bus.Subscribe(r.navigated)
	return r
}

func (r *Registry) Track(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[m] = struct{}{}
}

// Untrack resets m and stops tracking it.
func (r *Registry) Untrack(m *Machine) {
	r.mu.Lock()
	delete(r.machines, m)
	r.mu.Unlock()
	m.Reset()
}

// Close unsubscribes from the bus and cancels a pending rebuild.
func (r *Registry) Close() {
	r.unsub()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rebuild != nil {
		r.rebuild.Stop()
		r.rebuild = nil
	}
}

func (r *Registry) snapshot() []*Machine {
	out := make([]*Machine, 0, len(r.machines))
	for m := range r.machines {
		out = append(out, m)
	}
	return out
}

// navigated tears every machine down now and rebuilds them after
// SettleDelay. Navigations during the settle window restart it.
func (r *Registry) navigated(path string) {
	r.mu.Lock()
	machines := r.snapshot()
	if r.rebuild != nil {
		r.rebuild.Stop()
	}
	r.mu.Unlock()

	appLog.Debug("navigation; resetting gestures", "path", path, "machines", len(machines))
	for _, m := range machines {
		m.Reset()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var t *clock.Timer
	t = r.clock.AfterFunc(SettleDelay, func() {
		r.mu.Lock()
		if r.rebuild != t {
			r.mu.Unlock()
			return
		}
		r.rebuild = nil
		machines := r.snapshot()
		r.mu.Unlock()
		for _, m := range machines {
			m.Rebuild()
		}
	})
	r.rebuild = t
}
