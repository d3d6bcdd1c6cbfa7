package clock

import (
	"sync"
	"time"
)

// watchdogGrace mirrors lazyGrace: a wall-clock overrun beyond this past
// one ping period means the process was asleep, not merely scheduled late.
const watchdogGrace = 5 * time.Second

// Watchdog is a process-wide broadcast source that pings on a fixed period
// and fires a wake event on every subscriber channel when the actual
// elapsed wall clock exceeds period+5s — the signal that the OS suspended
// the process (laptop lid closed, container frozen) rather than merely
// delayed a goroutine.
type Watchdog struct {
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	subs    map[chan struct{}]struct{}
	stop    chan struct{}
	started bool
}

// NewWatchdog returns a watchdog that pings every period.
func NewWatchdog(period time.Duration) *Watchdog {
	return &Watchdog{period: period, now: time.Now, subs: make(map[chan struct{}]struct{})}
}

// Start begins the ping loop. Calling Start more than once is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	go w.run(w.stop)
}

func (w *Watchdog) run(stop chan struct{}) {
	last := w.now()
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := w.now()
			if now.Sub(last) > w.period+watchdogGrace {
				w.broadcast()
			}
			last = now
		}
	}
}

func (w *Watchdog) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a channel to receive a wake event; cancel
// unregisters it. Consumers (responders, queries) reset their
// known-answer/backoff state on wake.
func (w *Watchdog) Subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	return ch, func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
}

// Stop halts the ping loop. A stopped watchdog can be restarted with Start.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	close(w.stop)
	w.started = false
}

// Default is the process-wide sleep watchdog singleton every responder and
// query subscribes to, pinging once a minute per spec.md §4.10.
var Default = NewWatchdog(time.Minute)
