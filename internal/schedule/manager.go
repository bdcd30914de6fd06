// Package schedule polls the remote digest delivery schedule and triggers a
// proactive full sync shortly before each delivery, so the digest is built
// from fresh vault content.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/apperr"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

const (
	// defaultInterval is the poll cadence when no delivery is known.
	defaultInterval = time.Hour
	// cacheTTL bounds how long a fetched schedule is served locally.
	cacheTTL = time.Hour
	// triggerCooldown stops the manager from re-firing on every check once
	// inside the delivery window.
	triggerCooldown = 30 * time.Minute

	defaultWindow = 2 * time.Hour
	minWindow     = time.Hour
	maxWindow     = 12 * time.Hour
)

// API is the server surface the manager polls.
type API interface {
	Schedule(ctx context.Context) (*models.Schedule, error)
}

// Manager polls the delivery schedule with an adaptive cadence and invokes
// the full-sync entry point inside the pre-delivery window.
type Manager struct {
	api    API
	sync   func(context.Context) error
	log    *slog.Logger
	window time.Duration

	mu          sync.Mutex
	cached      *models.Schedule
	fetchedAt   time.Time
	lastTrigger time.Time

	now func() time.Time
}

// NewManager creates a manager. window is the pre-delivery sync window,
// clamped to [1h, 12h]; zero selects the default of two hours.
func NewManager(api API, syncFn func(context.Context) error, window time.Duration, log *slog.Logger) *Manager {
	if window <= 0 {
		window = defaultWindow
	}
	if window < minWindow {
		window = minWindow
	}
	if window > maxWindow {
		window = maxWindow
	}
	return &Manager{
		api:    api,
		sync:   syncFn,
		log:    log,
		window: window,
		now:    time.Now,
	}
}

// Run performs one immediate check, then keeps checking on the adaptive
// interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	timer := time.NewTimer(m.check(ctx))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(m.check(ctx))
		}
	}
}

// check runs one poll cycle and returns the interval until the next one.
func (m *Manager) check(ctx context.Context) time.Duration {
	sched := m.schedule(ctx)
	if sched == nil || !sched.Enabled || sched.NextDelivery == nil {
		return defaultInterval
	}

	now := m.now()
	remaining := sched.NextDelivery.Sub(now)
	if remaining > 0 && remaining <= m.window && m.cooledDown(now) {
		m.log.Info("scheduled sync triggered",
			slog.String("next_delivery", sched.NextDelivery.Format(time.RFC3339)),
			slog.Duration("remaining", remaining))
		m.stampTrigger(now)
		if err := m.sync(ctx); err != nil {
			if errors.Is(err, apperr.ErrSyncActive) {
				m.log.Info("scheduled sync skipped, sync already running")
			} else {
				m.log.Error("scheduled sync failed", slog.String("error", err.Error()))
			}
		}
	}
	return pollInterval(remaining)
}

// schedule returns the cached schedule when fresh, otherwise re-fetches.
// A fetch failure counts as "no schedule" for this cycle only.
func (m *Manager) schedule(ctx context.Context) *models.Schedule {
	m.mu.Lock()
	cached, fetchedAt := m.cached, m.fetchedAt
	m.mu.Unlock()
	if cached != nil && m.now().Sub(fetchedAt) < cacheTTL {
		return cached
	}

	sched, err := m.api.Schedule(ctx)
	if err != nil {
		m.log.Warn("schedule fetch failed", slog.String("error", err.Error()))
		return nil
	}
	m.mu.Lock()
	m.cached, m.fetchedAt = sched, m.now()
	m.mu.Unlock()
	return sched
}

func (m *Manager) cooledDown(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTrigger.IsZero() || now.Sub(m.lastTrigger) >= triggerCooldown
}

func (m *Manager) stampTrigger(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTrigger = now
}

// pollInterval picks the check cadence from the time left until delivery:
// most of the day polls cheaply, the approach to delivery gets finer.
func pollInterval(remaining time.Duration) time.Duration {
	switch {
	case remaining <= 0:
		return defaultInterval
	case remaining < 2*time.Hour:
		return 10 * time.Minute
	case remaining < 6*time.Hour:
		return 15 * time.Minute
	case remaining < 12*time.Hour:
		return 30 * time.Minute
	default:
		return time.Hour
	}
}
