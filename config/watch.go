package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval is how long Watch waits after the last filesystem event before reloading.
var DebounceInterval = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each valid result to fn.
// Invalid configurations are logged and skipped. The parent directory is watched so editors and
// deploy tools that replace the file by rename are seen. Blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	logger := slog.Default().With("component", "config")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	logger.Info("watching configuration", "path", path)

	var (
		timer    *time.Timer
		debounce <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(DebounceInterval)
			} else {
				timer.Reset(DebounceInterval)
			}
			debounce = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		case <-debounce:
			debounce = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("ignoring invalid configuration change", "path", path, "err", err)
				continue
			}
			logger.Info("configuration reloaded", "path", path)
			fn(cfg)
		}
	}
}
