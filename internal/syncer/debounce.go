package syncer

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of triggers into one delayed call of fn. The
// first trigger arms a timer; triggers while armed are absorbed and never
// push the deadline back, so continuous churn cannot starve fn.
type debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	armed bool
	timer *time.Timer
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		return
	}
	d.armed = true
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.armed = false
		d.mu.Unlock()
		d.fn()
	})
}

// stop cancels a pending, not-yet-started call. It never interrupts a call
// already running.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed && d.timer != nil {
		d.timer.Stop()
		d.armed = false
	}
}
