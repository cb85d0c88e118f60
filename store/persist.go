package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skosovsky/agentsync"
)

// ErrNoSnapshot indicates nothing has been persisted yet.
var ErrNoSnapshot = errors.New("store: no persisted snapshot")

// Snapshot is the persisted form of an agent set.
type Snapshot struct {
	Agents          []agentsync.Agent    `json:"agents"`
	GlobalResources []agentsync.Resource `json:"globalResources,omitempty"`
	SyncedAt        time.Time            `json:"syncedAt"`
}

// Persister stores the last agent set durably. Load returns ErrNoSnapshot when empty.
type Persister interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

var (
	_ Persister = (*MemoryPersister)(nil)
	_ Persister = (*SQLitePersister)(nil)
)

// MemoryPersister keeps the snapshot in memory. Useful for tests and when no storage path is configured.
type MemoryPersister struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister { return &MemoryPersister{} }

// Save replaces the held snapshot.
func (m *MemoryPersister) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Agents = cloneAgents(s.Agents)
	s.GlobalResources = cloneResources(s.GlobalResources)
	m.snap = &s
	m.saves++
	return nil
}

// Load returns a copy of the held snapshot.
func (m *MemoryPersister) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	s := *m.snap
	s.Agents = cloneAgents(s.Agents)
	s.GlobalResources = cloneResources(s.GlobalResources)
	return s, nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneAgents(in []agentsync.Agent) []agentsync.Agent {
	if in == nil {
		return nil
	}
	out := make([]agentsync.Agent, len(in))
	for i, a := range in {
		out[i] = agentsync.CloneAgent(a)
	}
	return out
}

func cloneResources(in []agentsync.Resource) []agentsync.Resource {
	if in == nil {
		return nil
	}
	out := make([]agentsync.Resource, len(in))
	for i, r := range in {
		out[i] = agentsync.CloneResource(r)
	}
	return out
}
