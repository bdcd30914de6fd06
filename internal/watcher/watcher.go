// Package watcher translates file-system notifications on the vault into
// VaultEvent values for the syncer.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
)

// Watcher observes a vault directory tree recursively. Renames surface as a
// deletion of the old path followed by a creation of the new one, because
// the file-system notifier reports the two halves as separate events.
type Watcher struct {
	root   string
	log    *slog.Logger
	events chan models.VaultEvent
}

// New creates a watcher for the vault rooted at root.
func New(root string, log *slog.Logger) *Watcher {
	return &Watcher{
		root:   root,
		log:    log,
		events: make(chan models.VaultEvent, 256),
	}
}

// Events returns the channel vault events are delivered on. It is closed
// when Run returns.
func (w *Watcher) Events() <-chan models.VaultEvent {
	return w.events
}

// Run watches the vault until ctx is cancelled. Directories created at
// runtime are added to the watch list automatically; hidden directories
// (.obsidian, .trash, ...) are never watched.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addDirs(fsw, w.root); err != nil {
		return err
	}
	w.log.Info("watcher started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	abs := ev.Name

	// New directories join the watch list; files already inside them are
	// announced because they may have landed before the watch existed.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			if hidden(filepath.Base(abs)) {
				return
			}
			if addErr := w.addDirs(fsw, abs); addErr != nil {
				w.log.Warn("watch new dir failed",
					slog.String("path", abs),
					slog.String("error", addErr.Error()))
			}
			w.announceDir(ctx, abs)
			return
		}
	}

	if !strings.HasSuffix(abs, ".md") || hidden(filepath.Base(abs)) {
		return
	}
	rel, relErr := filepath.Rel(w.root, abs)
	if relErr != nil {
		return
	}
	path := filepath.ToSlash(rel)

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.emit(ctx, models.VaultEvent{Op: models.OpCreated, Path: path})
	case ev.Op&fsnotify.Write != 0:
		w.emit(ctx, models.VaultEvent{Op: models.OpModified, Path: path})
	case ev.Op&fsnotify.Remove != 0:
		w.emit(ctx, models.VaultEvent{Op: models.OpDeleted, Path: path})
	case ev.Op&fsnotify.Rename != 0:
		// Rename fires on the old path only; the new path arrives as a
		// separate Create if it stays inside the vault.
		w.emit(ctx, models.VaultEvent{Op: models.OpDeleted, Path: path})
	}
}

// announceDir emits create events for .md files already present in a newly
// watched directory.
func (w *Watcher) announceDir(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") || hidden(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		w.emit(ctx, models.VaultEvent{Op: models.OpCreated, Path: filepath.ToSlash(rel)})
		return nil
	})
}

func (w *Watcher) emit(ctx context.Context, ev models.VaultEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// addDirs adds root and all its non-hidden subdirectories to the watcher.
func (w *Watcher) addDirs(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
