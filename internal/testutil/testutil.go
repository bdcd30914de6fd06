// Package testutil provides shared test helpers for setting up vaults, sync
// state, and dev servers.
package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/devserver"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/storage"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/tracker"
)

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteNote writes a markdown note under the vault root, creating parent
// directories as needed.
func WriteNote(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestTracker opens a tracker backed by a temporary state file that is
// automatically cleaned up.
func TestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	tr, err := tracker.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// StartDevServer spins up an in-process dev endpoint backed by a temporary
// SQLite store. The returned store allows direct assertions on indexed state.
func StartDevServer(t *testing.T, token string) (*httptest.Server, *devserver.Store) {
	t.Helper()
	dbFile, err := os.CreateTemp("", "secondbrain-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := devserver.OpenStore(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	srv := devserver.New(store, token, models.Schedule{}, DiscardLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
