// Package syncer runs sync cycles: fetch the agent set from the repository, swap it into the
// store and warm the resource cache. Cycles never overlap; a request that arrives while one is
// running queues exactly one rerun.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skosovsky/agentsync/repository"
	"github.com/skosovsky/agentsync/resource"
	"github.com/skosovsky/agentsync/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrSyncInProgress is returned by Sync when a cycle is already running. A rerun is queued.
	ErrSyncInProgress = errors.New("syncer: sync already in progress")
	// ErrNotConfigured indicates no repository has been configured.
	ErrNotConfigured = errors.New("syncer: repository not configured")
)

// Fetcher retrieves the agent set. *repository.Fetcher implements it.
type Fetcher interface {
	FetchAgents(ctx context.Context) (*repository.Result, error)
}

// Preloader warms the resource cache. *resource.Loader implements it.
type Preloader interface {
	Preload(ctx context.Context, owners []resource.OwnerResources)
}

var (
	_ Fetcher   = (*repository.Fetcher)(nil)
	_ Preloader = (*resource.Loader)(nil)
)

// GlobalOwner is the owner name used for global resources when preloading.
const GlobalOwner = "global"

// Status is a point-in-time view of the syncer for status queries.
type Status struct {
	LastSyncTime   time.Time `json:"lastSyncTime"`
	LastError      string    `json:"lastError,omitempty"`
	SyncInProgress bool      `json:"syncInProgress"`
	AgentCount     int       `json:"agentCount"`
	RepositoryURL  string    `json:"repositoryUrl,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	LastCycleID    string    `json:"lastCycleId,omitempty"`
	Dropped        int       `json:"dropped"`
}

// Syncer serializes sync cycles over a store. Safe for concurrent use.
type Syncer struct {
	store   *store.Store
	loader  Preloader
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time

	mu        sync.Mutex
	fetcher   Fetcher
	repoURL   string
	branch    string
	running   bool
	pending   bool
	lastSync  time.Time
	lastErr   string
	lastCycle string
	dropped   int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Default is slog.Default() with component=syncer.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the prometheus collectors. Default registers with a private registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Syncer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRepository records the repository URL and branch reported in Status.
func WithRepository(repoURL, branch string) Option {
	return func(s *Syncer) {
		s.repoURL = repoURL
		s.branch = branch
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Syncer. fetcher may be nil until SetFetcher is called; loader may be nil to skip preload.
func New(st *store.Store, loader Preloader, fetcher Fetcher, opts ...Option) *Syncer {
	s := &Syncer{
		store:   st,
		loader:  loader,
		fetcher: fetcher,
		logger:  slog.Default().With("component", "syncer"),
		tracer:  otel.Tracer("github.com/skosovsky/agentsync/syncer"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.metrics.Agents.Set(float64(st.Len()))
	if t := st.SyncedAt(); !t.IsZero() {
		s.lastSync = t
	}
	return s
}

// SetFetcher swaps the repository the next cycle reads from.
func (s *Syncer) SetFetcher(f Fetcher, repoURL, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetcher = f
	s.repoURL = repoURL
	s.branch = branch
}

// Sync runs one cycle and returns its error. If a cycle is already running it queues one rerun
// and returns ErrSyncInProgress immediately; further requests while the rerun is queued collapse
// into it. The caller that started the running cycle also runs the queued rerun before returning.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	for {
		err := s.cycle(ctx)
		s.mu.Lock()
		if !s.pending || ctx.Err() != nil {
			s.running = false
			s.pending = false
			s.mu.Unlock()
			return err
		}
		s.pending = false
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "running queued sync")
	}
}

func (s *Syncer) cycle(ctx context.Context) (err error) {
	id := uuid.NewString()
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "syncer.cycle", trace.WithAttributes(attribute.String("sync.cycle_id", id)))
	log := s.logger.With("cycle_id", id)
	defer func() {
		result := resultSuccess
		if err != nil {
			result = resultFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.Cycles.WithLabelValues(result).Inc()
		s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	s.mu.Lock()
	f := s.fetcher
	s.lastCycle = id
	s.mu.Unlock()
	if f == nil {
		s.recordError(ErrNotConfigured)
		return ErrNotConfigured
	}

	log.InfoContext(ctx, "sync started")
	res, err := f.FetchAgents(ctx)
	if err != nil {
		// The store keeps the last known good set.
		s.recordError(err)
		log.WarnContext(ctx, "sync failed, keeping current agent set", "agents", s.store.Len(), "err", err)
		return fmt.Errorf("syncer: cycle %s: %w", id, err)
	}

	kept, persistErr := s.store.ReplaceAll(ctx, res.Agents, res.GlobalResources)
	s.mu.Lock()
	s.lastSync = s.store.SyncedAt()
	s.dropped = res.Dropped
	s.lastErr = ""
	if persistErr != nil {
		s.lastErr = persistErr.Error()
	}
	s.mu.Unlock()
	s.metrics.Agents.Set(float64(kept))
	s.metrics.Dropped.Set(float64(res.Dropped))
	s.metrics.LastSuccess.Set(float64(s.now().Unix()))
	span.SetAttributes(attribute.Int("agents.count", kept), attribute.Int("agents.dropped", res.Dropped))
	log.InfoContext(ctx, "sync complete", "version", res.Version, "agents", kept, "dropped", res.Dropped)

	if s.loader != nil {
		s.loader.Preload(ctx, s.owners())
	}
	return nil
}

// owners lists enabled agents' resources by id, followed by the global resources.
func (s *Syncer) owners() []resource.OwnerResources {
	agents := s.store.List()
	out := make([]resource.OwnerResources, 0, len(agents)+1)
	for _, a := range agents {
		if !a.Enabled || len(a.Resources) == 0 {
			continue
		}
		out = append(out, resource.OwnerResources{Owner: a.ID, Resources: a.Resources})
	}
	if globals := s.store.GlobalResources(); len(globals) > 0 {
		out = append(out, resource.OwnerResources{Owner: GlobalOwner, Resources: globals})
	}
	return out
}

func (s *Syncer) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Run syncs immediately and then every interval until ctx is cancelled.
// Cycle errors are recorded in Status and logged; Run itself only returns when ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("syncer: interval must be positive, got %s", interval)
	}
	s.runOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	if err := s.Sync(ctx); errors.Is(err, ErrSyncInProgress) {
		s.logger.DebugContext(ctx, "tick collapsed into running sync")
	}
}

// Status returns the current status.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		LastSyncTime:   s.lastSync,
		LastError:      s.lastErr,
		SyncInProgress: s.running,
		AgentCount:     s.store.Len(),
		RepositoryURL:  s.repoURL,
		Branch:         s.branch,
		LastCycleID:    s.lastCycle,
		Dropped:        s.dropped,
	}
}
