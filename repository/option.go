package repository

import (
	"log/slog"
	"time"
)

const (
	// DefaultManifestPath is the manifest location relative to the repository root.
	DefaultManifestPath = "agents.json"
	// DefaultManifestTimeout bounds each manifest request.
	DefaultManifestTimeout = 10 * time.Second
	// DefaultReferenceTimeout bounds each file: reference request.
	DefaultReferenceTimeout = 5 * time.Second
)

// Option configures a Fetcher (functional options pattern).
type Option func(*Fetcher)

// WithManifestPath sets the manifest path. Empty keeps DefaultManifestPath.
func WithManifestPath(path string) Option {
	return func(f *Fetcher) {
		if path != "" {
			f.manifestPath = path
		}
	}
}

// WithAttempts sets how many times the manifest request is tried. Default is 1 (no retry).
// Retries back off exponentially; a missing manifest is not retried.
func WithAttempts(n uint) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// WithRetryDelay sets the base delay between manifest attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.retryDelay = d
		}
	}
}

// WithManifestTimeout overrides DefaultManifestTimeout.
func WithManifestTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.manifestTimeout = d
		}
	}
}

// WithReferenceTimeout overrides DefaultReferenceTimeout.
func WithReferenceTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.refTimeout = d
		}
	}
}

// WithLogger sets the logger. Default is slog.Default() with component=repository.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}
