package remote

import (
	"context"
	"sync"
	"time"
)

// limiter is a sliding-window rate limiter: at most limit calls may start
// within any window. Callers over quota are suspended until the oldest
// recorded call leaves the window, then re-evaluated, which gives exact
// quota compliance rather than approximate throttling.
type limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{limit: limit, window: window}
}

// wait blocks until the caller may proceed, recording the call. It returns
// early only when ctx is cancelled.
func (l *limiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		sleep := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps that have left the window. Must be called with the
// lock held.
func (l *limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
