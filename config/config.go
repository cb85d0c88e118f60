// Package config loads agentsync settings from an optional YAML file and AGENTSYNC_* environment
// variables, in that order of precedence (environment wins), on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. AGENTSYNC_SYNC_INTERVAL sets sync.interval;
// only the first underscore after the prefix separates section and key.
const EnvPrefix = "AGENTSYNC_"

// ErrInvalid indicates the configuration failed validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the complete agentsync configuration.
type Config struct {
	Repository RepositoryConfig `koanf:"repository"`
	Sync       SyncConfig       `koanf:"sync"`
	Resources  ResourcesConfig  `koanf:"resources"`
	Storage    StorageConfig    `koanf:"storage"`
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	HTTP       HTTPConfig       `koanf:"http"`
}

// RepositoryConfig locates the agents repository and its manifest.
type RepositoryConfig struct {
	URL      string `koanf:"url"`
	Branch   string `koanf:"branch"`
	Manifest string `koanf:"manifest"`
	Token    string `koanf:"token"`
	// Retries is the number of manifest attempts; 1 means no retry.
	Retries int `koanf:"retries"`
}

// SyncConfig controls periodic syncing. With Enabled false, Run syncs once.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`
	Enabled  bool          `koanf:"enabled"`
}

// ResourcesConfig tunes the resource loader.
type ResourcesConfig struct {
	DefaultTTL   time.Duration `koanf:"default_ttl"`
	Timeout      time.Duration `koanf:"timeout"`
	PreloadBatch int           `koanf:"preload_batch"`
}

// StorageConfig selects where the agent set is persisted.
type StorageConfig struct {
	// Path of the SQLite database. Empty keeps the agent set in memory only.
	Path string `koanf:"path"`
}

// LogConfig sets the slog level and handler format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// TelemetryConfig toggles span export to stderr.
type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

// HTTPConfig is the listen address of the host API.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

var defaults = map[string]any{
	"repository.branch":       "main",
	"repository.manifest":     "agents.json",
	"repository.retries":      1,
	"sync.interval":           "5m",
	"sync.enabled":            true,
	"resources.default_ttl":   "5m",
	"resources.timeout":       "15s",
	"resources.preload_batch": 5,
	"log.level":               "info",
	"log.format":              "text",
	"telemetry.tracing":       false,
	"http.addr":               "127.0.0.1:8089",
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load("", false)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load reads defaults, then the YAML file at path (skipped when path is empty), then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", key, err)
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("config: load environment: %w", err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps AGENTSYNC_RESOURCES_DEFAULT_TTL to resources.default_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks ranges and enumerations. An empty repository URL is allowed: the repository
// can be configured at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Repository.URL != "" && strings.TrimSpace(c.Repository.Branch) == "" {
		errs = append(errs, errors.New("repository.branch must be set when repository.url is"))
	}
	if c.Repository.Manifest == "" {
		errs = append(errs, errors.New("repository.manifest must not be empty"))
	}
	if c.Repository.Retries < 1 {
		errs = append(errs, fmt.Errorf("repository.retries must be >= 1, got %d", c.Repository.Retries))
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Resources.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("resources.default_ttl must be positive, got %s", c.Resources.DefaultTTL))
	}
	if c.Resources.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("resources.timeout must be positive, got %s", c.Resources.Timeout))
	}
	if c.Resources.PreloadBatch < 1 {
		errs = append(errs, fmt.Errorf("resources.preload_batch must be >= 1, got %d", c.Resources.PreloadBatch))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
