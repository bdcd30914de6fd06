// Package tracker owns the durable sync state: the path to content-hash map
// of the last acknowledged server contents, the last full-sync timestamp, and
// the cached server exclusion rules. The tracker is the only component that
// mutates this state; every mutation persists the full state to disk before
// returning.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// Tracker guards a single SyncState instance backed by a JSON file.
type Tracker struct {
	path string

	mu    sync.RWMutex
	state *models.SyncState
}

// Open loads the sync state from path, or starts with an empty state when
// the file does not exist yet.
func Open(path string) (*Tracker, error) {
	t := &Tracker{path: path, state: models.NewSyncState()}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: read state: %w", err)
	}
	if err := json.Unmarshal(data, t.state); err != nil {
		return nil, fmt.Errorf("tracker: parse state: %w", err)
	}
	if t.state.Hashes == nil {
		t.state.Hashes = make(map[string]string)
	}
	return t, nil
}

// Hash returns the recorded content hash for a path.
func (t *Tracker) Hash(path string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.state.Hashes[path]
	return h, ok
}

// Changed reports whether hash differs from the recorded one for path.
// An untracked path counts as changed.
func (t *Tracker) Changed(path, hash string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	recorded, ok := t.state.Hashes[path]
	return !ok || recorded != hash
}

// Diff compares a complete current snapshot against the tracked state.
// Changed holds current paths that are new or carry a different hash;
// Deleted holds tracked paths absent from the snapshot. Both are sorted.
func (t *Tracker) Diff(current map[string]string) models.SyncDiff {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var diff models.SyncDiff
	for path, hash := range current {
		if recorded, ok := t.state.Hashes[path]; !ok || recorded != hash {
			diff.Changed = append(diff.Changed, path)
		}
	}
	for path := range t.state.Hashes {
		if _, ok := current[path]; !ok {
			diff.Deleted = append(diff.Deleted, path)
		}
	}
	sort.Strings(diff.Changed)
	sort.Strings(diff.Deleted)
	return diff
}

// Paths returns a sorted snapshot of every tracked path.
func (t *Tracker) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.state.Hashes))
	for path := range t.state.Hashes {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked paths.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.state.Hashes)
}

// Record stores the given path to hash entries. The in-memory state is
// updated even when persistence fails; the error reports the failed write.
func (t *Tracker) Record(hashes map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, hash := range hashes {
		t.state.Hashes[path] = hash
	}
	return t.persist()
}

// Remove drops tracking for the given paths after confirmed server-side
// deletion.
func (t *Tracker) Remove(paths []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, path := range paths {
		delete(t.state.Hashes, path)
	}
	return t.persist()
}

// Rename moves a tracked entry to a new path, keeping its hash. A rename of
// an untracked path is a no-op.
func (t *Tracker) Rename(oldPath, newPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	hash, ok := t.state.Hashes[oldPath]
	if !ok {
		return nil
	}
	delete(t.state.Hashes, oldPath)
	t.state.Hashes[newPath] = hash
	return t.persist()
}

// LastSync returns the last successful full-reconciliation time, or nil if
// none has completed yet.
func (t *Tracker) LastSync() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state.LastSync == nil {
		return nil
	}
	ts := *t.state.LastSync
	return &ts
}

// SetLastSync stamps the last successful full-reconciliation time.
func (t *Tracker) SetLastSync(ts time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastSync = &ts
	return t.persist()
}

// Exclusions returns the cached server exclusion rules.
func (t *Tracker) Exclusions() models.ExclusionRules {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.ExclusionRules{
		Folders: append([]string(nil), t.state.Exclusions.Folders...),
		Tags:    append([]string(nil), t.state.Exclusions.Tags...),
	}
}

// SetExclusions replaces the cached server exclusion rules.
func (t *Tracker) SetExclusions(rules models.ExclusionRules) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Exclusions = rules
	return t.persist()
}

// Reset wipes the entire state for a forced full resync.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = models.NewSyncState()
	return t.persist()
}

// persist writes the full state atomically. Must be called with the write
// lock held.
func (t *Tracker) persist() error {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("tracker: create state dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tracker: write state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("tracker: replace state: %w", err)
	}
	return nil
}
