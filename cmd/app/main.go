package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/dannberg/obsidian-secondbrain-sync/internal"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/devserver"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/exclusion"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/mcpserver"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/remote"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/status"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/storage"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/syncer"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/tracker"
	pkgconfig "github.com/dannberg/obsidian-secondbrain-sync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	path := cmd.String("config")

	// An explicitly passed config file must exist; the default path is
	// optional and defaults apply when it is absent.
	var err error
	if cmd.IsSet("config") {
		err = pkgconfig.Load(path, cfg)
	} else {
		err = pkgconfig.LoadIfExists(path, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func newClient(cfg *internal.Config, logger *slog.Logger) *remote.Client {
	return remote.New(cfg.Server.BaseURL, cfg.Server.Token,
		remote.WithTimeout(cfg.Server.Timeout.Std()),
		remote.WithLogger(logger))
}

func vaultDisplayName(cfg *internal.Config) string {
	if cfg.Vault.Name != "" {
		return cfg.Vault.Name
	}
	abs, err := filepath.Abs(cfg.Vault.Path)
	if err != nil {
		return filepath.Base(cfg.Vault.Path)
	}
	return filepath.Base(abs)
}

func runAgent(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("agent run error: %w", err)
	}
	return nil
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg)

	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return err
	}
	tr, err := tracker.Open(cfg.Sync.StatePath)
	if err != nil {
		return err
	}
	filter := exclusion.New(tr.Exclusions())
	client := newClient(cfg, logger)

	eng := syncer.New(vault, tr, filter, client, nil, logger,
		syncer.WithVaultName(vaultDisplayName(cfg)))

	if err := eng.FullSync(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("Synced vault %q: %d notes tracked\n", vaultDisplayName(cfg), tr.Len())
	if ls := tr.LastSync(); ls != nil {
		fmt.Printf("Last sync: %s\n", ls.Local().Format(time.RFC1123))
	}
	return nil
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg)
	client := newClient(cfg, logger)

	tr, err := tracker.Open(cfg.Sync.StatePath)
	if err != nil {
		return err
	}

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("fetch server status: %w", err)
	}

	local := tr.Exclusions()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", text.Bold.Sprint("Local"), text.Bold.Sprint("Server")})
	t.AppendRow(table.Row{"Vault", vaultDisplayName(cfg), st.VaultName})
	t.AppendRow(table.Row{"Notes", tr.Len(), st.TotalNotes})
	t.AppendRow(table.Row{"Last sync", formatTime(tr.LastSync()), formatTime(st.LastSync)})
	t.AppendRow(table.Row{"Excluded folders", len(local.Folders), len(st.Exclusions.Folders)})
	t.AppendRow(table.Row{"Excluded tags", len(local.Tags), len(st.Exclusions.Tags)})
	t.Render()
	return nil
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func runExclusionsList(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client := newClient(cfg, internal.NewLogger(cfg))

	rules, err := client.Exclusions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exclusions: %w", err)
	}

	if len(rules.Folders) == 0 && len(rules.Tags) == 0 {
		fmt.Println("No exclusion rules set; every note syncs.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{text.Bold.Sprint("Kind"), text.Bold.Sprint("Rule")})
	for _, f := range rules.Folders {
		t.AppendRow(table.Row{"folder", f})
	}
	for _, tag := range rules.Tags {
		t.AppendRow(table.Row{"tag", tag})
	}
	t.Render()
	return nil
}

func runExclusionsAdd(ctx context.Context, cmd *cli.Command) error {
	folders, tags := cmd.StringSlice("folder"), cmd.StringSlice("tag")
	if len(folders) == 0 && len(tags) == 0 {
		return fmt.Errorf("nothing to add: pass --folder and/or --tag")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client := newClient(cfg, internal.NewLogger(cfg))

	rules, err := client.Exclusions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exclusions: %w", err)
	}

	rules.Folders = mergeUnique(rules.Folders, folders, exclusion.NormalizeFolder)
	rules.Tags = mergeUnique(rules.Tags, tags, exclusion.NormalizeTag)

	res, err := client.UpdateExclusions(ctx, rules)
	if err != nil {
		return fmt.Errorf("update exclusions: %w", err)
	}
	fmt.Printf("Rules updated; server removed %d now-excluded notes\n", res.RemovedCount)
	return nil
}

func runExclusionsRemove(ctx context.Context, cmd *cli.Command) error {
	folders, tags := cmd.StringSlice("folder"), cmd.StringSlice("tag")
	if len(folders) == 0 && len(tags) == 0 {
		return fmt.Errorf("nothing to remove: pass --folder and/or --tag")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client := newClient(cfg, internal.NewLogger(cfg))

	rules, err := client.Exclusions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exclusions: %w", err)
	}

	rules.Folders = removeMatching(rules.Folders, folders, exclusion.NormalizeFolder)
	rules.Tags = removeMatching(rules.Tags, tags, exclusion.NormalizeTag)

	if _, err := client.UpdateExclusions(ctx, rules); err != nil {
		return fmt.Errorf("update exclusions: %w", err)
	}
	fmt.Printf("Rules updated; %d folder rules and %d tag rules remain\n",
		len(rules.Folders), len(rules.Tags))
	return nil
}

// mergeUnique appends added entries to existing ones, normalizing everything
// and dropping duplicates while preserving order.
func mergeUnique(existing, added []string, normalize func(string) string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	appendNew := func(raw string) {
		v := normalize(raw)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, raw := range existing {
		appendNew(raw)
	}
	for _, raw := range added {
		appendNew(raw)
	}
	return out
}

// removeMatching drops entries whose normalized form matches any of the
// removed ones.
func removeMatching(existing, removed []string, normalize func(string) string) []string {
	drop := make(map[string]struct{}, len(removed))
	for _, raw := range removed {
		if v := normalize(raw); v != "" {
			drop[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(existing))
	for _, raw := range existing {
		v := normalize(raw)
		if v == "" {
			continue
		}
		if _, ok := drop[v]; ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

func runDevServer(ctx context.Context, cmd *cli.Command) error {
	hour, minute, err := parseClock(cmd.String("digest-at"))
	if err != nil {
		return err
	}

	store, err := devserver.OpenStore(cmd.String("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	srv := devserver.New(store, cmd.String("token"), models.Schedule{
		Enabled:  cmd.Bool("digest-enabled"),
		Hour:     hour,
		Minute:   minute,
		Timezone: cmd.String("digest-tz"),
	}, logger)

	httpServer := &http.Server{
		Addr:    cmd.String("addr"),
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Dev server starting", slog.String("addr", cmd.String("addr")))

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dev server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Stdout carries the MCP protocol; logs go to the configured file or
	// stderr.
	var logger *slog.Logger
	if cfg.App.LogFile != "" {
		logger = internal.NewLogger(cfg)
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.App.Level(),
		}))
	}

	vault, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return err
	}
	tr, err := tracker.Open(cfg.Sync.StatePath)
	if err != nil {
		return err
	}
	filter := exclusion.New(tr.Exclusions())
	client := newClient(cfg, logger)

	bus := status.NewBus()
	defer bus.Close()

	eng := syncer.New(vault, tr, filter, client, bus, logger,
		syncer.WithVaultName(vaultDisplayName(cfg)))

	return mcpserver.New(eng, tr, filter, client, bus).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:  "secondbrain-sync",
		Usage: "Keep an Obsidian vault synced to a Second Brain server, with privacy exclusions and scheduled pre-digest syncs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config.yml",
				Value:       "config.yml",
				Sources:     cli.EnvVars("SECONDBRAIN_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the sync agent: watch the vault, drain changes, sync on schedule",
				Action: runAgent,
			},
			{
				Name:   "sync",
				Usage:  "Run one full sync and exit",
				Action: runOnce,
			},
			{
				Name:   "status",
				Usage:  "Show local and server sync state",
				Action: runStatus,
			},
			{
				Name:  "exclusions",
				Usage: "Inspect or edit the server-side exclusion rules",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List the active rules",
						Action: runExclusionsList,
					},
					{
						Name:   "add",
						Usage:  "Add folder or tag rules",
						Action: runExclusionsAdd,
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "folder", Usage: "Folder prefix to exclude"},
							&cli.StringSliceFlag{Name: "tag", Usage: "Tag to exclude"},
						},
					},
					{
						Name:   "remove",
						Usage:  "Remove folder or tag rules",
						Action: runExclusionsRemove,
						Flags: []cli.Flag{
							&cli.StringSliceFlag{Name: "folder", Usage: "Folder rule to remove"},
							&cli.StringSliceFlag{Name: "tag", Usage: "Tag rule to remove"},
						},
					},
				},
			},
			{
				Name:   "devserver",
				Usage:  "Run a local Second Brain endpoint for development",
				Action: runDevServer,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address", Value: ":8080"},
					&cli.StringFlag{Name: "db", Usage: "SQLite database path", Value: "secondbrain-dev.db"},
					&cli.StringFlag{Name: "token", Usage: "Bearer token (empty disables auth)", Sources: cli.EnvVars("SECONDBRAIN_DEV_TOKEN")},
					&cli.StringFlag{Name: "digest-at", Usage: "Daily digest delivery time (HH:MM)", Value: "06:30"},
					&cli.StringFlag{Name: "digest-tz", Usage: "Digest delivery timezone", Value: "UTC"},
					&cli.BoolFlag{Name: "digest-enabled", Usage: "Advertise a digest schedule", Value: true},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve sync tools over the Model Context Protocol on stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
