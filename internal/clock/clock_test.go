package clock

import (
	"testing"
	"time"
)

func TestTimersSetAndHas(t *testing.T) {
	tm := New()
	fired := make(chan struct{}, 1)
	tm.Set("a", 10*time.Millisecond, func() { fired <- struct{}{} })
	if !tm.Has("a") {
		t.Fatal("expected Has(a) to be true right after Set")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimersSetReplacesExisting(t *testing.T) {
	tm := New()
	calls := make(chan int, 2)
	tm.Set("a", 5*time.Millisecond, func() { calls <- 1 })
	tm.Set("a", 5*time.Millisecond, func() { calls <- 2 })

	time.Sleep(50 * time.Millisecond)
	select {
	case v := <-calls:
		if v != 2 {
			t.Fatalf("expected only the replacement callback to fire, got %d", v)
		}
	default:
		t.Fatal("expected one callback to fire")
	}
	select {
	case v := <-calls:
		t.Fatalf("unexpected second callback fired: %d", v)
	default:
	}
}

func TestTimersClearCancels(t *testing.T) {
	tm := New()
	fired := make(chan struct{}, 1)
	tm.Set("a", 20*time.Millisecond, func() { fired <- struct{}{} })
	tm.Clear("a")
	if tm.Has("a") {
		t.Fatal("expected Has(a) to be false after Clear")
	}
	select {
	case <-fired:
		t.Fatal("cleared timer must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimersClearAllAndCount(t *testing.T) {
	tm := New()
	tm.Set("a", time.Minute, func() {})
	tm.Set("b", time.Minute, func() {})
	if tm.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", tm.Count())
	}
	tm.ClearAll()
	if tm.Count() != 0 {
		t.Fatalf("Count() after ClearAll = %d, want 0", tm.Count())
	}
}

func TestSetLazyDropsStaleCallback(t *testing.T) {
	tm := New()
	var fakeNow time.Time = time.Now()
	tm.now = func() time.Time { return fakeNow }

	fired := make(chan struct{}, 1)
	tm.SetLazy("a", 10*time.Millisecond, func() { fired <- struct{}{} })

	// Simulate a wall-clock jump well past the expected deadline + grace
	// before the underlying timer fires, as if the process had slept.
	fakeNow = fakeNow.Add(time.Minute)

	select {
	case <-fired:
		t.Fatal("expected the lazy callback to be dropped after a wall-clock jump")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSetLazyFiresWhenOnTime(t *testing.T) {
	tm := New()
	fired := make(chan struct{}, 1)
	tm.SetLazy("a", 10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected the lazy callback to fire when no clock jump occurred")
	}
}

func TestWatchdogFiresOnOverrun(t *testing.T) {
	w := NewWatchdog(20 * time.Millisecond)
	ch, cancel := w.Subscribe()
	defer cancel()

	// The first call sets the internal "last ping" baseline at the real
	// time; every later call jumps an hour ahead, so the very first ticker
	// firing looks like an overrun.
	calls := 0
	w.now = func() time.Time {
		calls++
		if calls == 1 {
			return time.Now()
		}
		return time.Now().Add(time.Hour)
	}
	w.Start()
	defer w.Stop()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a wake event after simulated overrun")
	}
}

func TestWatchdogSubscribeCancel(t *testing.T) {
	w := NewWatchdog(time.Hour)
	ch, cancel := w.Subscribe()
	cancel()
	w.broadcast()
	select {
	case <-ch:
		t.Fatal("cancelled subscription must not receive a wake event")
	default:
	}
}

func TestWatchdogStartIsIdempotent(t *testing.T) {
	w := NewWatchdog(time.Hour)
	w.Start()
	w.Start()
	w.Stop()
}
