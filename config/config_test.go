package config

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, "main", cfg.Repository.Branch)
	assert.Equal(t, "agents.json", cfg.Repository.Manifest)
	assert.Equal(t, 1, cfg.Repository.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Resources.DefaultTTL)
	assert.Equal(t, 15*time.Second, cfg.Resources.Timeout)
	assert.Equal(t, 5, cfg.Resources.PreloadBatch)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Storage.Path)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentsync.yaml")
	writeFile(t, path, `
repository:
  url: https://github.com/acme/widgets
  branch: release
  retries: 3
sync:
  interval: 30s
resources:
  preload_batch: 2
storage:
  path: /var/lib/agentsync/agents.db
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", cfg.Repository.URL)
	assert.Equal(t, "release", cfg.Repository.Branch)
	assert.Equal(t, 3, cfg.Repository.Retries)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Resources.PreloadBatch)
	assert.Equal(t, 15*time.Second, cfg.Resources.Timeout)
	assert.Equal(t, "/var/lib/agentsync/agents.db", cfg.Storage.Path)
	assert.Equal(t, "json", cfg.Log.Format)
}

// Not parallel: mutates the process environment.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentsync.yaml")
	writeFile(t, path, "repository:\n  url: https://github.com/acme/widgets\nsync:\n  interval: 30s\n")
	t.Setenv("AGENTSYNC_SYNC_INTERVAL", "2m")
	t.Setenv("AGENTSYNC_RESOURCES_DEFAULT_TTL", "90s")
	t.Setenv("AGENTSYNC_REPOSITORY_BRANCH", "dev")
	t.Setenv("AGENTSYNC_TELEMETRY_TRACING", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 90*time.Second, cfg.Resources.DefaultTTL)
	assert.Equal(t, "dev", cfg.Repository.Branch)
	assert.True(t, cfg.Telemetry.Tracing)
	assert.Equal(t, "https://github.com/acme/widgets", cfg.Repository.URL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "log:\n  level: loud\nresources:\n  preload_batch: 0\n")
	_, err = Load(path)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "preload_batch")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"url without branch", func(c *Config) { c.Repository.URL = "https://x"; c.Repository.Branch = "" }, false},
		{"zero retries", func(c *Config) { c.Repository.Retries = 0 }, false},
		{"zero interval when enabled", func(c *Config) { c.Sync.Interval = 0 }, false},
		{"zero interval when disabled", func(c *Config) { c.Sync.Interval = 0; c.Sync.Enabled = false }, true},
		{"zero timeout", func(c *Config) { c.Resources.Timeout = 0 }, false},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"upper case level", func(c *Config) { c.Log.Level = "DEBUG" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentsync.yaml")
	writeFile(t, path, "sync:\n  interval: 1m\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "other.yaml"), "ignored: true\n")
	writeFile(t, path, "log:\n  level: loud\n")
	writeFile(t, path, "sync:\n  interval: 45s\n")

	select {
	case cfg := <-got:
		assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestExportedTypesDocumented(t *testing.T) {
	t.Parallel()
	f, err := parser.ParseFile(token.NewFileSet(), "config.go", nil, parser.ParseComments)
	require.NoError(t, err)
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, s := range gd.Specs {
			ts := s.(*ast.TypeSpec)
			if !ts.Name.IsExported() {
				continue
			}
			assert.NotNil(t, gd.Doc, "type %s has no doc comment", ts.Name.Name)
		}
	}
}
