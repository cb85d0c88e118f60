package resource

import (
	"log/slog"
	"time"
)

// Option configures a Loader (functional options pattern).
type Option func(*Loader)

// WithTTL sets the default cache lifetime for resources that do not declare one.
// Default is 5 minutes. Values <= 0 are ignored.
func WithTTL(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithTimeout sets the per-fetch timeout. Default is 15 seconds.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithPreloadBatchSize sets how many fetches Preload keeps in flight. Default is 5.
func WithPreloadBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batch = n
		}
	}
}

// WithCache shares an existing cache instead of creating a new one.
func WithCache(c *Cache) Option {
	return func(l *Loader) {
		if c != nil {
			l.cache = c
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the prometheus collectors. Default registers with a private registry.
func WithMetrics(m *Metrics) Option {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}
