// Package clock implements the named-timer container and sleep watchdog
// spec.md §4.10 describes: a map of cancellable callbacks keyed by name,
// with a "lazy" variant that silently drops its callback if the wall
// clock jumped past the scheduled time (the machine slept), plus a
// process-wide ticker that broadcasts a wake event under the same
// condition.
package clock

import (
	"sync"
	"time"
)

// lazyGrace is how far past the expected deadline a lazy timer may fire
// before its callback is considered stale and dropped.
const lazyGrace = 5 * time.Second

// Timers is a named map of cancellation handles. Grounded in the teacher's
// repeated manual wall-clock-deadline bookkeeping (rate_limiter.go's
// cooldownExpiry field), generalized into a reusable container.
type Timers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	now    func() time.Time
}

// New returns an empty timer container.
func New() *Timers {
	return &Timers{timers: make(map[string]*time.Timer), now: time.Now}
}

// Set schedules f to run after d, replacing any existing timer with the
// same name.
func (t *Timers) Set(name string, d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[name]; ok {
		existing.Stop()
	}
	t.timers[name] = time.AfterFunc(d, f)
}

// SetLazy schedules f to run after d, but drops the call if the wall
// clock has jumped past the expected deadline plus a 5-second grace
// period by the time it fires — the symptom of the process having been
// asleep rather than merely busy.
func (t *Timers) SetLazy(name string, d time.Duration, f func()) {
	expected := t.now().Add(d)
	t.Set(name, d, func() {
		if t.now().After(expected.Add(lazyGrace)) {
			return
		}
		f()
	})
}

// Clear cancels and removes the named timer, if present.
func (t *Timers) Clear(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[name]; ok {
		existing.Stop()
		delete(t.timers, name)
	}
}

// ClearAll cancels and removes every tracked timer.
func (t *Timers) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}

// Has reports whether a timer with the given name is currently tracked.
func (t *Timers) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[name]
	return ok
}

// Count returns how many timers are currently tracked.
func (t *Timers) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
