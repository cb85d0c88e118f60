package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skosovsky/agentsync"
)

// snapshot is never mutated after it is published.
type snapshot struct {
	byID     map[string]agentsync.Agent
	byName   map[string]string
	ids      []string
	globals  []agentsync.Resource
	syncedAt time.Time
}

var emptySnapshot = &snapshot{byID: map[string]agentsync.Agent{}, byName: map[string]string{}}

// Store holds the current agent set. Reads are lock-free; writers are serialized.
type Store struct {
	cur       atomic.Pointer[snapshot]
	writeMu   sync.Mutex
	persister Persister
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default is slog.Default() with component=store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for SyncedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Store. A nil persister uses a MemoryPersister.
func New(p Persister, opts ...Option) *Store {
	if p == nil {
		p = NewMemoryPersister()
	}
	s := &Store{
		persister: p,
		now:       time.Now,
		logger:    slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cur.Store(emptySnapshot)
	return s
}

// Restore loads the persisted set, if any, and makes it current without persisting again.
// Returns the number of agents restored; an empty persister restores zero without error.
func (s *Store) Restore(ctx context.Context) (int, error) {
	snap, err := s.persister.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.build(snap.Agents, snap.GlobalResources, snap.SyncedAt)
	s.cur.Store(next)
	s.logger.InfoContext(ctx, "agent set restored", "agents", len(next.ids), "synced_at", snap.SyncedAt)
	return len(next.ids), nil
}

// ReplaceAll swaps in a new set built from agents and globals, then persists it.
// Agents failing validation or repeating an id are dropped. Returns the number kept.
// A persistence error is returned after the swap; the new set stays current.
func (s *Store) ReplaceAll(ctx context.Context, agents []agentsync.Agent, globals []agentsync.Resource) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	next := s.build(agents, globals, s.now())
	s.cur.Store(next)

	snap := next.export()
	if err := s.persister.Save(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "persisting agent set failed", "err", err)
		return len(next.ids), fmt.Errorf("store: persist: %w", err)
	}
	return len(next.ids), nil
}

func (s *Store) build(agents []agentsync.Agent, globals []agentsync.Resource, syncedAt time.Time) *snapshot {
	next := &snapshot{
		byID:     make(map[string]agentsync.Agent, len(agents)),
		byName:   make(map[string]string, len(agents)),
		syncedAt: syncedAt,
	}
	for _, a := range agents {
		if err := agentsync.ValidateAgent(a); err != nil {
			s.logger.Warn("dropping invalid agent", "id", a.ID, "err", err)
			continue
		}
		if _, dup := next.byID[a.ID]; dup {
			s.logger.Warn("dropping duplicate agent", "id", a.ID)
			continue
		}
		next.byID[a.ID] = agentsync.CloneAgent(a)
		next.ids = append(next.ids, a.ID)
		name := strings.ToLower(a.Name)
		if _, taken := next.byName[name]; !taken {
			next.byName[name] = a.ID
		}
	}
	slices.Sort(next.ids)
	for _, r := range globals {
		if err := agentsync.ValidateResource(r); err != nil {
			s.logger.Warn("dropping invalid global resource", "url", r.URL, "err", err)
			continue
		}
		next.globals = append(next.globals, agentsync.CloneResource(r))
	}
	return next
}

func (snap *snapshot) export() Snapshot {
	out := Snapshot{SyncedAt: snap.syncedAt, GlobalResources: cloneResources(snap.globals)}
	out.Agents = make([]agentsync.Agent, 0, len(snap.ids))
	for _, id := range snap.ids {
		out.Agents = append(out.Agents, agentsync.CloneAgent(snap.byID[id]))
	}
	return out
}

// Get returns a copy of the agent with the given id.
func (s *Store) Get(id string) (agentsync.Agent, bool) {
	a, ok := s.cur.Load().byID[id]
	if !ok {
		return agentsync.Agent{}, false
	}
	return agentsync.CloneAgent(a), true
}

// GetByName returns a copy of the agent whose name equals name, ignoring case.
// When names collide the agent listed first in the synced set wins.
func (s *Store) GetByName(name string) (agentsync.Agent, bool) {
	snap := s.cur.Load()
	id, ok := snap.byName[strings.ToLower(name)]
	if !ok {
		return agentsync.Agent{}, false
	}
	return agentsync.CloneAgent(snap.byID[id]), true
}

// Lookup finds an agent by id, then by name. Returns agentsync.ErrAgentNotFound otherwise.
func (s *Store) Lookup(nameOrID string) (agentsync.Agent, error) {
	if a, ok := s.Get(nameOrID); ok {
		return a, nil
	}
	if a, ok := s.GetByName(nameOrID); ok {
		return a, nil
	}
	return agentsync.Agent{}, fmt.Errorf("%w: %q", agentsync.ErrAgentNotFound, nameOrID)
}

// List returns copies of all agents sorted by id, taken from one snapshot.
func (s *Store) List() []agentsync.Agent {
	return s.cur.Load().export().Agents
}

// GlobalResources returns a copy of the resources shared by every agent.
func (s *Store) GlobalResources() []agentsync.Resource {
	return cloneResources(s.cur.Load().globals)
}

// SyncedAt returns when the current set was synced; zero if never.
func (s *Store) SyncedAt() time.Time { return s.cur.Load().syncedAt }

// Len returns the number of agents in the current set.
func (s *Store) Len() int { return len(s.cur.Load().ids) }

// Snapshot returns a copy of the current set.
func (s *Store) Snapshot() Snapshot { return s.cur.Load().export() }
