// Package app is the explicit context object of agentsync: New builds the fetch client,
// resource loader, agent store, repository fetcher and syncer once, and every host-facing
// operation goes through the returned App.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skosovsky/agentsync"
	"github.com/skosovsky/agentsync/config"
	"github.com/skosovsky/agentsync/fetch"
	"github.com/skosovsky/agentsync/repository"
	"github.com/skosovsky/agentsync/resource"
	"github.com/skosovsky/agentsync/store"
	"github.com/skosovsky/agentsync/syncer"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrInvalidRepository indicates Configure was given an unusable repository location.
var ErrInvalidRepository = errors.New("app: invalid repository")

// App owns every long-lived component. Safe for concurrent use.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	client    *fetch.Client
	loader    *resource.Loader
	store     *store.Store
	syncer    *syncer.Syncer
	persister store.Persister
	tokens    agentsync.TokenCounter

	httpClient *http.Client
	configMu   sync.Mutex
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithPersister overrides the persister chosen from storage.path.
func WithPersister(p store.Persister) Option {
	return func(a *App) {
		if p != nil {
			a.persister = p
		}
	}
}

// WithRegistry sets the prometheus registry the components register with. Default is a new registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *App) {
		if r != nil {
			a.registry = r
		}
	}
}

// WithHTTPClient sets the HTTP client used for every outbound request.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithTokenCounter sets the counter used for resource summaries. Default is CharFallbackCounter.
func WithTokenCounter(tc agentsync.TokenCounter) Option {
	return func(a *App) {
		if tc != nil {
			a.tokens = tc
		}
	}
}

// New builds the App from cfg (nil means config.Default()) and restores the persisted agent set.
// A restore failure is logged; the App starts empty. No network I/O happens until a sync runs.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: slog.Default(),
		tokens: &agentsync.CharFallbackCounter{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}

	a.client = fetch.New(
		fetch.WithHTTPClient(a.httpClient),
		fetch.WithAuthToken(cfg.Repository.Token),
		fetch.WithCircuitBreaker(fetch.BreakerSettings{}),
		fetch.WithLogger(a.logger.With("component", "fetch")),
	)
	a.loader = resource.New(a.client,
		resource.WithTTL(cfg.Resources.DefaultTTL),
		resource.WithTimeout(cfg.Resources.Timeout),
		resource.WithPreloadBatchSize(cfg.Resources.PreloadBatch),
		resource.WithLogger(a.logger.With("component", "resource")),
		resource.WithMetrics(resource.NewMetrics(a.registry)),
	)

	if a.persister == nil {
		if cfg.Storage.Path == "" {
			a.persister = store.NewMemoryPersister()
		} else {
			p, err := store.NewSQLitePersister(cfg.Storage.Path, "")
			if err != nil {
				return nil, err
			}
			a.persister = p
		}
	}
	a.store = store.New(a.persister, store.WithLogger(a.logger.With("component", "store")))
	if n, err := a.store.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "restoring agent set failed, starting empty", "err", err)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "restored agent set", "agents", n)
	}

	a.syncer = syncer.New(a.store, a.loader, nil,
		syncer.WithLogger(a.logger.With("component", "syncer")),
		syncer.WithMetrics(syncer.NewMetrics(a.registry)),
	)
	if cfg.Repository.URL != "" {
		f, err := a.newFetcher(cfg.Repository.URL, cfg.Repository.Branch)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.syncer.SetFetcher(f, cfg.Repository.URL, cfg.Repository.Branch)
	}
	return a, nil
}

func (a *App) newFetcher(repoURL, branch string) (*repository.Fetcher, error) {
	src, err := repository.NewSource(repoURL, branch, a.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRepository, err)
	}
	return repository.NewFetcher(src,
		repository.WithManifestPath(a.cfg.Repository.Manifest),
		repository.WithAttempts(uint(a.cfg.Repository.Retries)),
		repository.WithLogger(a.logger.With("component", "repository")),
	), nil
}

// Resync runs a sync cycle now. Returns syncer.ErrSyncInProgress when one is already running;
// a rerun is then queued.
func (a *App) Resync(ctx context.Context) error {
	return a.syncer.Sync(ctx)
}

// Configure points the App at a new repository and syncs it. An empty branch means "main".
// If a cycle is running, the rerun it queues reads from the new repository and Configure
// returns nil.
func (a *App) Configure(ctx context.Context, repoURL, branch string) error {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidRepository)
	}
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = "main"
	}
	a.configMu.Lock()
	f, err := a.newFetcher(repoURL, branch)
	if err != nil {
		a.configMu.Unlock()
		return err
	}
	a.syncer.SetFetcher(f, repoURL, branch)
	a.configMu.Unlock()
	a.logger.InfoContext(ctx, "repository configured", "url", repoURL, "branch", branch, "host", repository.Host(repoURL))

	if err := a.syncer.Sync(ctx); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
		return err
	}
	return nil
}

// Status reports the sync state.
func (a *App) Status() syncer.Status { return a.syncer.Status() }

// Agents lists the active agents sorted by id.
func (a *App) Agents() []agentsync.Agent { return a.store.List() }

// Agent finds an agent by id, then by case-insensitive name.
func (a *App) Agent(nameOrID string) (agentsync.Agent, error) {
	return a.store.Lookup(nameOrID)
}

// Load returns the content of one resource through the shared cache.
func (a *App) Load(ctx context.Context, r agentsync.Resource) agentsync.ResourceContent {
	return a.loader.LoadOne(ctx, r)
}

// Serve handles one request for an agent: it loads the global resources followed by the
// agent's own, summarizes them and hands everything to r. Resource failures are reported in the
// summary, never as an error.
func (a *App) Serve(ctx context.Context, nameOrID, query string, r agentsync.Renderer) error {
	ag, err := a.Agent(nameOrID)
	if err != nil {
		return err
	}
	if !ag.Enabled {
		return fmt.Errorf("%w: %q", agentsync.ErrAgentDisabled, ag.ID)
	}
	resources := append(a.store.GlobalResources(), ag.Resources...)
	contents := a.loader.LoadMany(ctx, resources)
	summary := agentsync.Summarize(contents, a.tokens)
	if summary.Failed > 0 || summary.Stale > 0 {
		a.logger.WarnContext(ctx, "serving with degraded resources",
			"agent", ag.ID, "stale", summary.Stale, "failed", summary.Failed)
	}
	return r.Render(ctx, agentsync.RenderRequest{
		Agent:     ag,
		Query:     query,
		Resources: contents,
		Summary:   summary,
	})
}

// ClearCache empties the resource cache, or only entries older than maxAge when maxAge > 0.
// Returns the number of entries removed.
func (a *App) ClearCache(maxAge time.Duration) int {
	if maxAge > 0 {
		return a.loader.ClearExpiredCache(maxAge)
	}
	n := a.loader.CacheLen()
	a.loader.ClearCache()
	return n
}

// Run syncs periodically until ctx is done. With sync disabled it syncs once and returns.
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.Sync.Enabled {
		if err := a.syncer.Sync(ctx); err != nil && !errors.Is(err, syncer.ErrSyncInProgress) {
			return err
		}
		return nil
	}
	return a.syncer.Run(ctx, a.cfg.Sync.Interval)
}

// Registry returns the prometheus registry holding the App's metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close releases the persister.
func (a *App) Close() error {
	if c, ok := a.persister.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
