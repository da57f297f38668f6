// Package activity tracks whether any network call is in flight.
//
// A Tracker is owned by whoever constructs it and injected into the
// components that report work; there is no package-level counter. Observers
// are notified only on idle/busy edges.
package activity

import "sync"

// Observer receives busy/idle transitions.
type Observer interface {
	ActivityChanged(busy bool)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(busy bool)

func (f ObserverFunc) ActivityChanged(busy bool) { f(busy) }

type Tracker struct {
	mu        sync.Mutex
	count     int
	nextID    int
	observers map[int]Observer
}

func NewTracker() *Tracker {
	return &Tracker{observers: map[int]Observer{}}
}

// Begin registers one unit of work and returns the func that ends it.
// The returned func is safe to call more than once; only the first call counts.
func (t *Tracker) Begin() (end func()) {
	if t == nil {
		return func() {}
	}
	t.mu.Lock()
	t.count++
	notify := t.count == 1
	obs := t.snapshot()
	t.mu.Unlock()
	if notify {
		broadcast(obs, true)
	}

	var once sync.Once
	return func() {
		once.Do(t.end)
	}
}

func (t *Tracker) end() {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		return
	}
	t.count--
	notify := t.count == 0
	obs := t.snapshot()
	t.mu.Unlock()
	if notify {
		broadcast(obs, false)
	}
}

// Busy reports whether any work is outstanding.
func (t *Tracker) Busy() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count > 0
}

// InFlight returns the number of outstanding units of work.
func (t *Tracker) InFlight() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Subscribe registers o and returns a func that removes it.
func (t *Tracker) Subscribe(o Observer) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = o
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) snapshot() []Observer {
	out := make([]Observer, 0, len(t.observers))
	for _, o := range t.observers {
		out = append(out, o)
	}
	return out
}

func broadcast(obs []Observer, busy bool) {
	for _, o := range obs {
		o.ActivityChanged(busy)
	}
}
