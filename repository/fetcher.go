package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skosovsky/agentsync"
	"github.com/skosovsky/agentsync/manifest"

	"github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of one successful FetchAgents call.
type Result struct {
	Version         string
	Agents          []agentsync.Agent
	GlobalResources []agentsync.Resource
	// Dropped counts manifest agents that did not decode, failed validation or repeated an earlier id.
	Dropped int
	// DroppedResources counts global resources that did not decode or failed validation.
	DroppedResources int
	Metadata         map[string]any
}

// state is a step of one FetchAgents call. Only used for logging.
type state string

const (
	stateFetchingManifest    state = "fetching-manifest"
	stateValidatingEntries   state = "validating-entries"
	stateResolvingReferences state = "resolving-references"
	stateDone                state = "done"
	stateFailed              state = "failed"
)

// Fetcher retrieves and validates the agent set from a Source. Safe for concurrent use.
type Fetcher struct {
	source          Source
	manifestPath    string
	attempts        uint
	retryDelay      time.Duration
	manifestTimeout time.Duration
	refTimeout      time.Duration
	logger          *slog.Logger
	tracer          trace.Tracer
}

// NewFetcher creates a Fetcher reading from source.
func NewFetcher(source Source, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:          source,
		manifestPath:    DefaultManifestPath,
		attempts:        1,
		manifestTimeout: DefaultManifestTimeout,
		refTimeout:      DefaultReferenceTimeout,
		logger:          slog.Default().With("component", "repository"),
		tracer:          otel.Tracer("github.com/skosovsky/agentsync/repository"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Source returns the source the fetcher reads from.
func (f *Fetcher) Source() Source { return f.source }

// FetchAgents downloads the manifest, drops invalid entries and resolves file: references.
// It fails only when the manifest cannot be retrieved (ErrFetchFailed, ErrNotFound) or decoded
// (ErrFormat); per-entry problems never fail the call.
func (f *Fetcher) FetchAgents(ctx context.Context) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "repository.FetchAgents", trace.WithAttributes(
		attribute.String("repository.location", f.source.Location()),
		attribute.String("repository.manifest", f.manifestPath),
	))
	defer span.End()
	log := f.logger.With("location", f.source.Location())

	log.DebugContext(ctx, "sync step", "state", stateFetchingManifest)
	data, err := f.fetchManifest(ctx)
	if err != nil {
		log.DebugContext(ctx, "sync step", "state", stateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrFormat, f.manifestPath, err)
		log.DebugContext(ctx, "sync step", "state", stateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log.DebugContext(ctx, "sync step", "state", stateValidatingEntries)
	res := &Result{Version: m.Version, Metadata: m.Metadata}
	for i := range m.Skipped {
		sk := &m.Skipped[i]
		if sk.List == manifest.ListGlobalResources {
			res.DroppedResources++
			log.WarnContext(ctx, "dropping undecodable global resource", "index", sk.Index, "err", sk.Err)
			continue
		}
		res.Dropped++
		log.WarnContext(ctx, "dropping undecodable agent", "index", sk.Index, "err", sk.Err)
	}
	seen := make(map[string]struct{}, len(m.Agents))
	for i, e := range m.Agents {
		a := e.Agent()
		if err := agentsync.ValidateAgent(a); err != nil {
			res.Dropped++
			log.WarnContext(ctx, "dropping invalid agent", "index", i, "id", e.ID, "err", err)
			continue
		}
		if _, dup := seen[a.ID]; dup {
			res.Dropped++
			log.WarnContext(ctx, "dropping duplicate agent", "index", i, "id", a.ID)
			continue
		}
		seen[a.ID] = struct{}{}
		res.Agents = append(res.Agents, a)
	}
	for i, re := range m.GlobalResources {
		r := re.Resource()
		if err := agentsync.ValidateResource(r); err != nil {
			res.DroppedResources++
			log.WarnContext(ctx, "dropping invalid global resource", "index", i, "url", r.URL, "err", err)
			continue
		}
		res.GlobalResources = append(res.GlobalResources, r)
	}

	log.DebugContext(ctx, "sync step", "state", stateResolvingReferences)
	for i := range res.Agents {
		f.resolveReferences(ctx, &res.Agents[i])
	}

	log.DebugContext(ctx, "sync step", "state", stateDone)
	span.SetAttributes(
		attribute.String("manifest.version", res.Version),
		attribute.Int("agents.count", len(res.Agents)),
		attribute.Int("agents.dropped", res.Dropped),
	)
	log.InfoContext(ctx, "manifest fetched",
		"version", res.Version, "agents", len(res.Agents), "dropped", res.Dropped,
		"global_resources", len(res.GlobalResources))
	return res, nil
}

func (f *Fetcher) fetchManifest(ctx context.Context) ([]byte, error) {
	var (
		data    []byte
		lastErr error
	)
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			if f.retryDelay > 0 {
				return f.retryDelay << min(n, 6)
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)
	retryErr := r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, f.manifestTimeout)
		defer cancel()

		var err error
		data, err = f.source.Fetch(tCtx, f.manifestPath)
		lastErr = err
		if errors.Is(err, ErrNotFound) {
			// A missing manifest will not appear on retry.
			return nil
		}
		if err != nil {
			f.logger.DebugContext(ctx, "manifest attempt failed", "path", f.manifestPath, "err", err)
		}
		return err
	})
	if lastErr != nil {
		return nil, fmt.Errorf("repository: manifest %s: %w", f.manifestPath, lastErr)
	}
	if retryErr != nil {
		return nil, fmt.Errorf("%w: manifest %s: %w", ErrFetchFailed, f.manifestPath, retryErr)
	}
	return data, nil
}

// resolveReferences substitutes file: prompt and template references in place.
// A reference that cannot be fetched keeps its literal text.
func (f *Fetcher) resolveReferences(ctx context.Context, a *agentsync.Agent) {
	if path, ok := manifest.IsFileRef(a.Prompt); ok {
		if text, err := f.fetchReference(ctx, "agents/"+path); err != nil {
			f.logger.WarnContext(ctx, "prompt reference kept as literal", "agent", a.ID, "ref", a.Prompt, "err", err)
		} else {
			a.Prompt = text
		}
	}
	if len(a.Templates) == 0 {
		return
	}
	templates := make([]string, len(a.Templates))
	for i, tpl := range a.Templates {
		templates[i] = tpl
		path, ok := manifest.IsFileRef(tpl)
		if !ok {
			continue
		}
		text, err := f.fetchReference(ctx, "templates/"+path)
		if err != nil {
			f.logger.WarnContext(ctx, "template reference kept as literal", "agent", a.ID, "ref", tpl, "err", err)
			continue
		}
		templates[i] = text
	}
	a.Templates = templates
}

func (f *Fetcher) fetchReference(ctx context.Context, path string) (string, error) {
	tCtx, cancel := context.WithTimeout(ctx, f.refTimeout)
	defer cancel()
	data, err := f.source.Fetch(tCtx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrReference, path, err)
	}
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: empty file", ErrReference, path)
	}
	return text, nil
}
