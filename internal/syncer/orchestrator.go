// Package syncer coordinates all outbound sync activity: it queues vault
// change events, debounces bursts into single drains, batches uploads, and
// reconciles tracker state with server responses. At most one sync run is
// in flight at any time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/apperr"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/exclusion"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/remote"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/status"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/storage"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/tracker"
)

const (
	// batchSize caps outbound batches below the server's own limit to bound
	// worst-case request size and retry cost.
	batchSize       = 50
	defaultDebounce = 2 * time.Second
)

// API is the server surface the syncer drives.
type API interface {
	SyncBatch(ctx context.Context, req remote.SyncRequest) (*remote.SyncResponse, error)
	DeleteNotes(ctx context.Context, paths []string) (*remote.DeleteResponse, error)
	Exclusions(ctx context.Context) (models.ExclusionRules, error)
}

var _ API = (*remote.Client)(nil)

// Syncer owns the pending change and delete queues and is the single
// authority for pushing vault state to the server.
type Syncer struct {
	vault     storage.Provider
	tracker   *tracker.Tracker
	filter    *exclusion.Filter
	api       API
	bus       *status.Bus
	log       *slog.Logger
	vaultName string
	window    time.Duration

	syncing atomic.Bool
	pending *queue
	deb     *debouncer
}

// Option is a functional option for configuring the syncer.
type Option func(*Syncer)

// WithDebounceWindow overrides the drain coalescing window.
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Syncer) {
		s.window = d
	}
}

// WithVaultName attaches a vault name to every outbound batch.
func WithVaultName(name string) Option {
	return func(s *Syncer) {
		s.vaultName = name
	}
}

// New creates a syncer. The bus may be nil when no observer cares about
// progress.
func New(vault storage.Provider, tr *tracker.Tracker, filter *exclusion.Filter, api API, bus *status.Bus, log *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		vault:   vault,
		tracker: tr,
		filter:  filter,
		api:     api,
		bus:     bus,
		log:     log,
		window:  defaultDebounce,
		pending: newQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deb = newDebouncer(s.window, s.onDrainTimer)
	return s
}

// Active reports whether a sync run is currently in flight.
func (s *Syncer) Active() bool {
	return s.syncing.Load()
}

// HandleEvent queues a vault change. Creations and modifications pass the
// cheap path filter before queueing; deletions always queue; a rename is a
// deletion of the old path plus a filtered addition of the new one.
func (s *Syncer) HandleEvent(ev models.VaultEvent) {
	switch ev.Op {
	case models.OpCreated, models.OpModified:
		if s.filter.ExcludedPath(ev.Path) {
			return
		}
		s.pending.addChange(ev.Path)
	case models.OpDeleted:
		s.pending.addDelete(ev.Path)
	case models.OpRenamed:
		s.pending.addDelete(ev.OldPath)
		if !s.filter.ExcludedPath(ev.Path) {
			s.pending.addChange(ev.Path)
		}
	default:
		return
	}
	s.deb.trigger()
}

// Run consumes vault events until ctx is cancelled or the channel closes.
func (s *Syncer) Run(ctx context.Context, events <-chan models.VaultEvent) error {
	for {
		select {
		case <-ctx.Done():
			s.deb.stop()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				s.deb.stop()
				return nil
			}
			s.HandleEvent(ev)
		}
	}
}

// onDrainTimer runs when the debounce window expires.
func (s *Syncer) onDrainTimer() {
	err := s.SyncPending(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrSyncActive):
		// A run is in flight; the queued paths stay put and drain after the
		// next window.
		s.deb.trigger()
	default:
		s.log.Error("incremental sync failed", slog.String("error", err.Error()))
	}
}

// SyncPending drains the pending queues and pushes the result to the
// server. A run already in flight returns apperr.ErrSyncActive.
func (s *Syncer) SyncPending(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return apperr.ErrSyncActive
	}
	defer s.release()

	changed, deleted := s.pending.drain()
	if len(changed) == 0 && len(deleted) == 0 {
		return nil
	}
	s.log.Info("incremental sync started",
		slog.Int("changed", len(changed)),
		slog.Int("deleted", len(deleted)))

	notes := s.collectNotes(changed)
	s.publish(models.PhaseSyncing, "incremental sync", 0, len(notes))
	if err := s.pushNotes(ctx, notes, len(notes)); err != nil {
		s.fail("incremental sync", err)
		return err
	}
	if err := s.pushDeletes(ctx, deleted); err != nil {
		s.fail("incremental sync", err)
		return err
	}
	if err := s.tracker.SetLastSync(time.Now().UTC()); err != nil {
		s.log.Error("persist last sync time", slog.String("error", err.Error()))
	}
	s.publish(models.PhaseIdle, "sync complete", len(notes), len(notes))
	return nil
}

// FullSync re-scans the whole vault and reconciles it against the server:
// changed notes are uploaded and tracked paths that no longer qualify are
// deleted remotely. This is the only path that catches deletions and
// exclusion-rule changes that happened while the agent was not running.
func (s *Syncer) FullSync(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return apperr.ErrSyncActive
	}
	defer s.release()

	s.publish(models.PhaseSyncing, "full sync", 0, 0)
	s.refreshExclusions(ctx)

	files, err := s.vault.List("")
	if err != nil {
		s.fail("full sync", err)
		return fmt.Errorf("syncer: scan vault: %w", err)
	}
	files = s.filter.FilterFiles(files)

	current := make(map[string]string, len(files))
	byPath := make(map[string]models.Note, len(files))
	for _, fi := range files {
		note, err := s.buildNote(fi.Path)
		if err != nil {
			s.log.Warn("skipping unreadable note",
				slog.String("path", fi.Path),
				slog.String("error", err.Error()))
			continue
		}
		if s.filter.Excluded(note.Path, note.Tags) {
			continue
		}
		current[note.Path] = note.ContentHash
		byPath[note.Path] = *note
	}

	diff := s.tracker.Diff(current)
	s.log.Info("full sync diff",
		slog.Int("scanned", len(current)),
		slog.Int("changed", len(diff.Changed)),
		slog.Int("deleted", len(diff.Deleted)))

	notes := make([]models.Note, 0, len(diff.Changed))
	for _, p := range diff.Changed {
		notes = append(notes, byPath[p])
	}
	s.publish(models.PhaseSyncing, "full sync", 0, len(notes))
	if err := s.pushNotes(ctx, notes, len(notes)); err != nil {
		s.fail("full sync", err)
		return err
	}
	if err := s.pushDeletes(ctx, diff.Deleted); err != nil {
		s.fail("full sync", err)
		return err
	}
	if err := s.tracker.SetLastSync(time.Now().UTC()); err != nil {
		s.log.Error("persist last sync time", slog.String("error", err.Error()))
	}
	s.publish(models.PhaseIdle, "full sync complete", len(notes), len(notes))
	return nil
}

// release clears the in-flight guard and re-arms the drain timer when
// events arrived during the run.
func (s *Syncer) release() {
	s.syncing.Store(false)
	if !s.pending.empty() {
		s.deb.trigger()
	}
}

// collectNotes re-reads each queued path and applies the authoritative
// filter now that tags are known. Paths that fail the full filter are
// silently dropped; unreadable paths are logged and left for the next
// detection cycle.
func (s *Syncer) collectNotes(paths []string) []models.Note {
	notes := make([]models.Note, 0, len(paths))
	for _, p := range paths {
		note, err := s.buildNote(p)
		if err != nil {
			s.log.Warn("skipping unreadable note",
				slog.String("path", p),
				slog.String("error", err.Error()))
			continue
		}
		if s.filter.Excluded(note.Path, note.Tags) {
			continue
		}
		notes = append(notes, *note)
	}
	return notes
}

// pushNotes uploads notes in batches of at most batchSize, flagging only
// the last batch of the run. The tracker update for batch N lands before
// batch N+1 is issued, so an aborted run leaves the tracker consistent
// with exactly the batches that completed.
func (s *Syncer) pushNotes(ctx context.Context, notes []models.Note, total int) error {
	synced := 0
	for start := 0; start < len(notes); start += batchSize {
		end := min(start+batchSize, len(notes))
		batch := notes[start:end]
		resp, err := s.api.SyncBatch(ctx, remote.SyncRequest{
			BatchID:   uuid.NewString(),
			Notes:     batch,
			Final:     end == len(notes),
			VaultName: s.vaultName,
		})
		if err != nil {
			return fmt.Errorf("syncer: upload batch: %w", err)
		}

		failed := make(map[string]struct{}, len(resp.Errors))
		for _, ne := range resp.Errors {
			failed[ne.Path] = struct{}{}
			s.log.Warn("server rejected note",
				slog.String("path", ne.Path),
				slog.String("reason", ne.Message))
		}
		confirmed := make(map[string]string, len(batch))
		for _, n := range batch {
			if _, bad := failed[n.Path]; !bad {
				confirmed[n.Path] = n.ContentHash
			}
		}
		if err := s.tracker.Record(confirmed); err != nil {
			// In-memory tracking is already updated; the durable copy lags
			// until the next successful write.
			s.log.Error("persist sync state", slog.String("error", err.Error()))
		}
		synced += len(confirmed)
		s.publish(models.PhaseSyncing, "uploading", synced, total)
	}
	return nil
}

// pushDeletes removes tracked paths from the server. Paths the tracker does
// not know are skipped; the server should not have them.
func (s *Syncer) pushDeletes(ctx context.Context, paths []string) error {
	var tracked []string
	for _, p := range paths {
		if _, ok := s.tracker.Hash(p); ok {
			tracked = append(tracked, p)
		}
	}
	if len(tracked) == 0 {
		return nil
	}
	if _, err := s.api.DeleteNotes(ctx, tracked); err != nil {
		return fmt.Errorf("syncer: delete notes: %w", err)
	}
	if err := s.tracker.Remove(tracked); err != nil {
		s.log.Error("persist sync state", slog.String("error", err.Error()))
	}
	return nil
}

// refreshExclusions pulls the server rule set and updates the filter and the
// durable cache. On failure the cached rules stay active for this run.
func (s *Syncer) refreshExclusions(ctx context.Context) {
	rules, err := s.api.Exclusions(ctx)
	if err != nil {
		s.log.Warn("exclusion refresh failed", slog.String("error", err.Error()))
		return
	}
	s.filter.Update(rules)
	if err := s.tracker.SetExclusions(s.filter.Rules()); err != nil {
		s.log.Error("persist exclusion cache", slog.String("error", err.Error()))
	}
}

func (s *Syncer) publish(phase models.SyncPhase, msg string, synced, total int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(models.SyncStatus{Phase: phase, Message: msg, Synced: synced, Total: total})
}

func (s *Syncer) fail(op string, err error) {
	s.log.Error(op+" failed", slog.String("error", err.Error()))
	s.publish(models.PhaseError, err.Error(), 0, 0)
}
