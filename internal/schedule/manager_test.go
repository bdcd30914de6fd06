package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/apperr"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

type fakeScheduleAPI struct {
	sched *models.Schedule
	err   error
	calls atomic.Int32
}

func (f *fakeScheduleAPI) Schedule(context.Context) (*models.Schedule, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.sched, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduleAt(next time.Time) *models.Schedule {
	return &models.Schedule{
		Enabled:      true,
		Hour:         next.Hour(),
		Minute:       next.Minute(),
		Timezone:     "UTC",
		NextDelivery: &next,
	}
}

func newManagerForTest(api API, syncFn func(context.Context) error, window time.Duration) (*Manager, *fakeClock) {
	m := NewManager(api, syncFn, window, discardLogger())
	clock := &fakeClock{t: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func TestPollIntervalTiers(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      time.Duration
	}{
		{14 * time.Hour, time.Hour},
		{12 * time.Hour, 30 * time.Minute},
		{8 * time.Hour, 30 * time.Minute},
		{4 * time.Hour, 15 * time.Minute},
		{90 * time.Minute, 10 * time.Minute},
		{5 * time.Minute, 10 * time.Minute},
		{-time.Hour, time.Hour},
		{0, time.Hour},
	}
	for _, tc := range cases {
		if got := pollInterval(tc.remaining); got != tc.want {
			t.Errorf("pollInterval(%v) = %v, want %v", tc.remaining, got, tc.want)
		}
	}
}

func TestWindowClamping(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, 2 * time.Hour},
		{30 * time.Minute, time.Hour},
		{2 * time.Hour, 2 * time.Hour},
		{20 * time.Hour, 12 * time.Hour},
	}
	for _, tc := range cases {
		m := NewManager(&fakeScheduleAPI{}, nil, tc.in, discardLogger())
		if m.window != tc.want {
			t.Errorf("NewManager(window=%v).window = %v, want %v", tc.in, m.window, tc.want)
		}
	}
}

func TestTriggerInsideWindow(t *testing.T) {
	var syncs atomic.Int32
	api := &fakeScheduleAPI{}
	m, clock := newManagerForTest(api, func(context.Context) error {
		syncs.Add(1)
		return nil
	}, 2*time.Hour)
	api.sched = scheduleAt(clock.t.Add(90 * time.Minute))

	interval := m.check(context.Background())

	if got := syncs.Load(); got != 1 {
		t.Errorf("sync invoked %d times, want 1", got)
	}
	if interval != 10*time.Minute {
		t.Errorf("next interval = %v, want 10m (inside the under-2h tier)", interval)
	}
}

func TestCooldownPreventsImmediateRetrigger(t *testing.T) {
	var syncs atomic.Int32
	api := &fakeScheduleAPI{}
	m, clock := newManagerForTest(api, func(context.Context) error {
		syncs.Add(1)
		return nil
	}, 2*time.Hour)
	api.sched = scheduleAt(clock.t.Add(90 * time.Minute))

	m.check(context.Background())
	clock.advance(10 * time.Minute)
	m.check(context.Background())

	if got := syncs.Load(); got != 1 {
		t.Errorf("sync invoked %d times within cooldown, want 1", got)
	}

	clock.advance(25 * time.Minute) // 35 minutes since trigger, still in window
	m.check(context.Background())
	if got := syncs.Load(); got != 2 {
		t.Errorf("sync invoked %d times after cooldown, want 2", got)
	}
}

func TestOutsideWindowDoesNotTrigger(t *testing.T) {
	var syncs atomic.Int32
	api := &fakeScheduleAPI{}
	m, clock := newManagerForTest(api, func(context.Context) error {
		syncs.Add(1)
		return nil
	}, 2*time.Hour)
	api.sched = scheduleAt(clock.t.Add(5 * time.Hour))

	interval := m.check(context.Background())

	if got := syncs.Load(); got != 0 {
		t.Errorf("sync invoked %d times outside window, want 0", got)
	}
	if interval != 15*time.Minute {
		t.Errorf("next interval = %v, want 15m", interval)
	}
}

func TestDisabledScheduleSkips(t *testing.T) {
	var syncs atomic.Int32
	api := &fakeScheduleAPI{sched: &models.Schedule{Enabled: false}}
	m, _ := newManagerForTest(api, func(context.Context) error {
		syncs.Add(1)
		return nil
	}, 2*time.Hour)

	if interval := m.check(context.Background()); interval != defaultInterval {
		t.Errorf("interval = %v, want default", interval)
	}
	if syncs.Load() != 0 {
		t.Error("disabled schedule must not trigger a sync")
	}
}

func TestMissingNextDeliverySkips(t *testing.T) {
	api := &fakeScheduleAPI{sched: &models.Schedule{Enabled: true}}
	m, _ := newManagerForTest(api, func(context.Context) error { return nil }, 2*time.Hour)

	if interval := m.check(context.Background()); interval != defaultInterval {
		t.Errorf("interval = %v, want default", interval)
	}
}

func TestFetchFailureSkipsCycleOnly(t *testing.T) {
	var syncs atomic.Int32
	api := &fakeScheduleAPI{err: errors.New("server unreachable")}
	m, clock := newManagerForTest(api, func(context.Context) error {
		syncs.Add(1)
		return nil
	}, 2*time.Hour)

	if interval := m.check(context.Background()); interval != defaultInterval {
		t.Errorf("interval after fetch failure = %v, want default", interval)
	}
	if syncs.Load() != 0 {
		t.Error("fetch failure must not trigger a sync")
	}

	// The next cycle recovers once the server responds.
	api.err = nil
	api.sched = scheduleAt(clock.t.Add(time.Hour))
	m.check(context.Background())
	if syncs.Load() != 1 {
		t.Error("manager should keep polling and trigger after recovery")
	}
}

func TestScheduleCache(t *testing.T) {
	api := &fakeScheduleAPI{}
	m, clock := newManagerForTest(api, func(context.Context) error { return nil }, 2*time.Hour)
	api.sched = scheduleAt(clock.t.Add(10 * time.Hour))

	m.check(context.Background())
	clock.advance(30 * time.Minute)
	m.check(context.Background())
	if got := api.calls.Load(); got != 1 {
		t.Errorf("schedule fetched %d times within cache TTL, want 1", got)
	}

	clock.advance(31 * time.Minute) // past the one-hour TTL
	m.check(context.Background())
	if got := api.calls.Load(); got != 2 {
		t.Errorf("schedule fetched %d times after TTL, want 2", got)
	}
}

func TestActiveSyncTolerated(t *testing.T) {
	api := &fakeScheduleAPI{}
	m, clock := newManagerForTest(api, func(context.Context) error {
		return apperr.ErrSyncActive
	}, 2*time.Hour)
	api.sched = scheduleAt(clock.t.Add(time.Hour))

	// A run already in flight is not an error for the manager.
	if interval := m.check(context.Background()); interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", interval)
	}
}

func TestRunChecksImmediately(t *testing.T) {
	api := &fakeScheduleAPI{sched: &models.Schedule{Enabled: false}}
	m, _ := newManagerForTest(api, func(context.Context) error { return nil }, 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && api.calls.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if api.calls.Load() == 0 {
		t.Error("Run() never performed the immediate first check")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
