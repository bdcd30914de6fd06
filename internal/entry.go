// Package internal provides the sync agent initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/exclusion"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/remote"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/schedule"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/status"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/storage"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/syncer"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/tracker"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/watcher"
)

// Run starts the sync agent with the given options and blocks until the
// context is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("server_url", cfg.Server.BaseURL),
		slog.String("state_path", cfg.Sync.StatePath),
		slog.String("log_level", cfg.App.LogLevel))

	// The vault must already exist; creating it here would silently sync an
	// empty directory after a mistyped path.
	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault storage: %w", err)
	}

	tr, err := tracker.Open(cfg.Sync.StatePath)
	if err != nil {
		return fmt.Errorf("open sync state: %w", err)
	}

	filter := exclusion.New(tr.Exclusions())

	client := remote.New(cfg.Server.BaseURL, cfg.Server.Token,
		remote.WithTimeout(cfg.Server.Timeout.Std()),
		remote.WithLogger(logger))

	if !client.TestConnection(ctx) {
		logger.Warn("Server unreachable at startup, sync will keep retrying",
			slog.String("server_url", cfg.Server.BaseURL))
	}

	bus := status.NewBus()
	defer bus.Close()

	vaultName := cfg.Vault.Name
	if vaultName == "" {
		vaultName = filepath.Base(vault.Root())
	}

	eng := syncer.New(vault, tr, filter, client, bus, logger,
		syncer.WithDebounceWindow(cfg.Sync.Debounce.Std()),
		syncer.WithVaultName(vaultName))

	w := watcher.New(vault.Root(), logger)

	logger.Info("Agent starting...",
		slog.String("vault", vaultName),
		slog.Int("tracked_notes", tr.Len()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Log every status transition the engine publishes.
	statusCh := bus.Subscribe()
	g.Go(func() error {
		defer bus.Unsubscribe(statusCh)
		for {
			select {
			case <-gCtx.Done():
				return nil
			case st, ok := <-statusCh:
				if !ok {
					return nil
				}
				logger.Info("Sync status",
					slog.String("phase", string(st.Phase)),
					slog.String("message", st.Message),
					slog.Int("synced", st.Synced),
					slog.Int("total", st.Total))
			}
		}
	})

	// Watch the vault for changes.
	g.Go(func() error {
		if err := w.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("vault watcher: %w", err)
		}
		return nil
	})

	// Feed watcher events into the sync engine.
	g.Go(func() error {
		if err := eng.Run(gCtx, w.Events()); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		return nil
	})

	// Run an initial full sync. Failure is logged, not fatal: the agent may
	// start while the server is down and reconcile later.
	if cfg.Sync.OnStart {
		g.Go(func() error {
			if err := eng.FullSync(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Startup sync failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Sync ahead of scheduled digest deliveries.
	if cfg.Scheduled.Enabled {
		mgr := schedule.NewManager(client, eng.FullSync, cfg.Scheduled.Window.Std(), logger)
		g.Go(func() error {
			if err := mgr.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("schedule manager: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Agent error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Agent stopped successfully")
	return nil
}

// NewLogger builds the agent's structured JSON logger. A configured log file
// gets size-based rotation; otherwise logs go to stdout.
func NewLogger(cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.App.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.Level(),
	}))
}
