package syncer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalesces(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 10; i++ {
		d.trigger()
	}
	time.Sleep(100 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Errorf("fn fired %d times, want 1", got)
	}
}

func TestDebouncerDoesNotStarve(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { fired.Add(1) })

	// Continuous triggering well past several windows: the deadline is
	// never pushed back, so the call must still happen.
	stop := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(stop) {
		d.trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := fired.Load(); got < 2 {
		t.Errorf("fn fired %d times under churn, want at least 2", got)
	}
}

func TestDebouncerRearmsAfterFire(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { fired.Add(1) })

	d.trigger()
	time.Sleep(60 * time.Millisecond)
	d.trigger()
	time.Sleep(60 * time.Millisecond)

	if got := fired.Load(); got != 2 {
		t.Errorf("fn fired %d times, want 2", got)
	}
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { fired.Add(1) })

	d.trigger()
	d.stop()
	time.Sleep(80 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("fn fired %d times after stop, want 0", got)
	}
}
