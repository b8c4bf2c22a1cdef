package presence

import (
	"sync"
	"time"
)

// timerEntry is the handle for one armed expiry. Its pointer identity lets a
// firing callback check that it has not been superseded.
type timerEntry struct {
	timer *time.Timer
}

// timerRegistry holds at most one live timer per session id. Once stopAll
// has run the registry is closed and refuses to arm.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[string]*timerEntry
	closed bool
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*timerEntry)}
}

// arm cancels any timer registered for id and registers a new one in the same
// critical section. It reports whether a previous timer was replaced, and
// false for ok when the registry is closed.
func (r *timerRegistry) arm(id string, d time.Duration, fire func(*timerEntry)) (replaced, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, false
	}
	old, replaced := r.timers[id]
	if replaced {
		old.timer.Stop()
	}
	entry := &timerEntry{}
	entry.timer = time.AfterFunc(d, func() { fire(entry) })
	r.timers[id] = entry
	return replaced, true
}

// remove stops and deletes the timer for id. With a non-nil want, the entry
// is removed only if it is still the registered one.
func (r *timerRegistry) remove(id string, want *timerEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.timers[id]
	if !ok || (want != nil && entry != want) {
		return false
	}
	entry.timer.Stop()
	delete(r.timers, id)
	return true
}

func (r *timerRegistry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

func (r *timerRegistry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *timerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// stopAll cancels every timer, empties the registry and closes it.
func (r *timerRegistry) stopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := len(r.timers)
	for id, entry := range r.timers {
		entry.timer.Stop()
		delete(r.timers, id)
	}
	return n
}

// keyedMutex serializes work per session id. Entries are reference counted
// so idle ids do not accumulate.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
