package internal

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dannberg/obsidian-secondbrain-sync/pkg/config"
)

// Config represents the sync agent configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	Server    ServerConfig      `yaml:"server"`
	Sync      SyncConfig        `yaml:"sync"`
	Scheduled ScheduledConfig   `yaml:"scheduled"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFile enables rotating file logging when set; empty logs to stdout.
	LogFile string `yaml:"log_file"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("", "debug", "info", "warn", "error")),
	)
}

// Level maps the configured log level onto slog. Unset defaults to info.
func (c *ApplicationConfig) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VaultConfig holds the local vault location and display name.
type VaultConfig struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ServerConfig holds the Second Brain server connection settings.
//
// An empty Token talks to an unauthenticated local server; production
// servers reject such requests.
type ServerConfig struct {
	BaseURL string          `yaml:"base_url"`
	Token   string          `yaml:"token"`
	Timeout config.Duration `yaml:"timeout"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(validBaseURL)),
	)
}

func validBaseURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// SyncConfig controls the sync engine.
type SyncConfig struct {
	// StatePath is where the durable sync state lives.
	StatePath string `yaml:"state_path"`
	// OnStart runs a full sync as soon as the agent comes up.
	OnStart bool `yaml:"on_start"`
	// Debounce is the drain coalescing window for bursts of file events.
	Debounce config.Duration `yaml:"debounce"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StatePath, validation.Required),
	)
}

// ScheduledConfig controls the pre-delivery scheduled sync.
type ScheduledConfig struct {
	Enabled bool `yaml:"enabled"`
	// Window is how long before a digest delivery a sync fires, clamped to
	// [1h, 12h] at runtime.
	Window config.Duration `yaml:"window"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: "info",
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			Timeout: config.Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			StatePath: "./sync-state.json",
			OnStart:   true,
			Debounce:  config.Duration(2 * time.Second),
		},
		Scheduled: ScheduledConfig{
			Enabled: true,
			Window:  config.Duration(2 * time.Hour),
		},
	}
}
