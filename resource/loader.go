package resource

import (
	"context"
	"log/slog"
	"time"

	"github.com/skosovsky/agentsync"
	"github.com/skosovsky/agentsync/fetch"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is the cache lifetime for resources that do not declare one.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds each resource fetch.
	DefaultTimeout = 15 * time.Second
	// DefaultPreloadBatchSize is the number of fetches Preload keeps in flight.
	DefaultPreloadBatchSize = 5
)

// Getter is the HTTP primitive the loader fetches through. *fetch.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*fetch.Response, error)
}

var _ Getter = (*fetch.Client)(nil)

// Ensures Loader implements agentsync.Loader.
var _ agentsync.Loader = (*Loader)(nil)

// OwnerResources is the resource list declared by one owner (an agent id, or "global").
type OwnerResources struct {
	Owner     string
	Resources []agentsync.Resource
}

// Loader decides between cache and network for each resource and never fails the call.
// Concurrent misses for the same cache key share one fetch. Safe for concurrent use.
type Loader struct {
	client  Getter
	cache   *Cache
	ttl     time.Duration
	timeout time.Duration
	batch   int
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	sf      singleflight.Group
}

// New creates a Loader that fetches through client. A nil client uses fetch.New().
func New(client Getter, opts ...Option) *Loader {
	if client == nil {
		client = fetch.New()
	}
	l := &Loader{
		client:  client,
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		batch:   DefaultPreloadBatchSize,
		now:     time.Now,
		logger:  slog.Default().With("component", "resource"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewCache()
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	return l
}

// detachCancel returns a context that is not cancelled when parent is cancelled,
// but still respects parent's deadline, so one waiter giving up does not abort a shared fetch.
// The caller should call the returned cancel when done to release the deadline timer.
func detachCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if dl, ok := parent.Deadline(); ok {
		return context.WithDeadline(ctx, dl)
	}
	return context.WithCancel(ctx)
}

// LoadOne returns the content for r. A cached entry younger than r.CacheDuration (or the
// default TTL) is returned without network I/O. Otherwise the resource is fetched; on failure
// the last cached content, however old, is returned with Error set, or empty content with
// Error set when nothing was ever cached.
func (l *Loader) LoadOne(ctx context.Context, r agentsync.Resource) agentsync.ResourceContent {
	key := Key(r)
	ttl := r.CacheDuration
	if ttl <= 0 {
		ttl = l.ttl
	}
	if e, ok := l.cache.Get(key); ok && e.Age(l.now()) < ttl {
		l.metrics.Loads.WithLabelValues(resultHit).Inc()
		return agentsync.ResourceContent{
			URL:       r.URL,
			Content:   e.Content,
			LoadedAt:  e.FetchedAt,
			FromCache: true,
		}
	}
	v, _, _ := l.sf.Do(key, func() (any, error) {
		fetchCtx, cancel := detachCancel(ctx)
		defer cancel()
		return l.fetch(fetchCtx, r, key), nil
	})
	return v.(agentsync.ResourceContent)
}

func (l *Loader) fetch(ctx context.Context, r agentsync.Resource, key string) agentsync.ResourceContent {
	start := time.Now()
	resp, err := l.client.Get(ctx, r.URL, requestHeaders(r), l.timeout)
	l.metrics.FetchDuration.WithLabelValues(string(r.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		return l.fallback(r, key, fetch.Kind(err)+": "+err.Error())
	}
	text, normErr := normalize(r.Type, resp.Body, resp.ContentType)
	now := l.now()
	l.cache.Put(key, text, now)
	l.metrics.CacheEntries.Set(float64(l.cache.Len()))
	l.metrics.Loads.WithLabelValues(resultMiss).Inc()
	out := agentsync.ResourceContent{URL: r.URL, Content: text, LoadedAt: now}
	if normErr != nil {
		l.logger.Debug("best-effort text conversion", "url", r.URL, "err", normErr)
		out.Error = fetch.KindSerialization + ": " + normErr.Error()
	}
	return out
}

func (l *Loader) fallback(r agentsync.Resource, key, msg string) agentsync.ResourceContent {
	if e, ok := l.cache.Get(key); ok {
		l.metrics.Loads.WithLabelValues(resultStale).Inc()
		l.logger.Warn("resource fetch failed, serving stale content",
			"url", r.URL, "age", e.Age(l.now()).String(), "err", msg)
		return agentsync.ResourceContent{
			URL:       r.URL,
			Content:   e.Content,
			LoadedAt:  e.FetchedAt,
			Error:     msg,
			FromCache: true,
			Stale:     true,
		}
	}
	l.metrics.Loads.WithLabelValues(resultError).Inc()
	l.logger.Warn("resource fetch failed", "url", r.URL, "err", msg)
	return agentsync.ResourceContent{URL: r.URL, LoadedAt: l.now(), Error: msg}
}

// LoadMany loads each resource in order, one at a time. The result has one entry per input.
func (l *Loader) LoadMany(ctx context.Context, rs []agentsync.Resource) []agentsync.ResourceContent {
	out := make([]agentsync.ResourceContent, 0, len(rs))
	for _, r := range rs {
		out = append(out, l.LoadOne(ctx, r))
	}
	return out
}

// Preload warms the cache for every owner's resources. Resources are deduplicated by URL
// (see Unique) and fetched in batches; each batch completes before the next starts.
// Stops between batches when ctx is done.
func (l *Loader) Preload(ctx context.Context, owners []OwnerResources) {
	unique := Unique(owners, l.logger)
	failed := 0
	for start := 0; start < len(unique); start += l.batch {
		if ctx.Err() != nil {
			l.logger.Info("preload interrupted", "done", start, "total", len(unique))
			return
		}
		batch := unique[start:min(start+l.batch, len(unique))]
		results := make([]agentsync.ResourceContent, len(batch))
		wg := conc.NewWaitGroup()
		for i, r := range batch {
			wg.Go(func() {
				results[i] = l.LoadOne(ctx, r)
			})
		}
		wg.Wait()
		for _, res := range results {
			if !res.OK() {
				failed++
			}
		}
	}
	l.logger.Info("preload complete", "resources", len(unique), "failed", failed)
}

// Unique flattens owners in order and keeps the first resource seen for each URL.
// Later declarations of the same URL are dropped even if their headers or cache lifetime differ;
// such conflicts are logged at debug level when logger is non-nil.
func Unique(owners []OwnerResources, logger *slog.Logger) []agentsync.Resource {
	kept := make(map[string]int)
	keptOwner := make(map[string]string)
	var out []agentsync.Resource
	for _, o := range owners {
		for _, r := range o.Resources {
			i, ok := kept[r.URL]
			if !ok {
				kept[r.URL] = len(out)
				keptOwner[r.URL] = o.Owner
				out = append(out, r)
				continue
			}
			if logger != nil && (Key(out[i]) != Key(r) || out[i].CacheDuration != r.CacheDuration) {
				logger.Debug("conflicting duplicate resource ignored",
					"url", r.URL, "kept_owner", keptOwner[r.URL], "dropped_owner", o.Owner)
			}
		}
	}
	return out
}

// ClearCache removes every cached entry.
func (l *Loader) ClearCache() {
	l.cache.Clear()
	l.metrics.CacheEntries.Set(0)
}

// ClearExpiredCache removes entries older than maxAge and returns how many were removed.
func (l *Loader) ClearExpiredCache(maxAge time.Duration) int {
	n := l.cache.ClearExpired(maxAge, l.now())
	l.metrics.CacheEntries.Set(float64(l.cache.Len()))
	return n
}

// CacheLen returns the number of cached entries.
func (l *Loader) CacheLen() int { return l.cache.Len() }
