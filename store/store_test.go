package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skosovsky/agentsync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func agent(id, name string) agentsync.Agent {
	return agentsync.Agent{ID: id, Name: name, Prompt: "prompt " + id, Enabled: true}
}

func TestStore_ReplaceAllAndRead(t *testing.T) {
	t.Parallel()
	p := NewMemoryPersister()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(p, WithClock(func() time.Time { return now }))
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.SyncedAt().IsZero())

	kept, err := s.ReplaceAll(context.Background(), []agentsync.Agent{
		agent("zeta", "Zeta"),
		agent("alpha", "Code Reviewer"),
		{ID: "", Name: "x", Prompt: "y"},
		{ID: "noprompt", Name: "b"},
		{ID: "ftp", Name: "b", Prompt: "c", Resources: []agentsync.Resource{{Type: "ftp", URL: "x"}}},
		agent("alpha", "Duplicate"),
	}, []agentsync.Resource{
		{Type: agentsync.ResourceURL, URL: "https://g"},
		{Type: agentsync.ResourceURL},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, kept)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, now, s.SyncedAt())
	assert.Equal(t, 1, p.Saves())

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)
	assert.Equal(t, "Code Reviewer", list[0].Name)

	a, ok := s.GetByName("code REVIEWER")
	require.True(t, ok)
	assert.Equal(t, "alpha", a.ID)
	_, ok = s.GetByName("code")
	assert.False(t, ok)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	got, err := s.Lookup("zeta")
	require.NoError(t, err)
	assert.Equal(t, "Zeta", got.Name)
	got, err = s.Lookup("code reviewer")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.ID)
	_, err = s.Lookup("nobody")
	require.ErrorIs(t, err, agentsync.ErrAgentNotFound)

	require.Len(t, s.GlobalResources(), 1)
}

func TestStore_ReplaceAllIsWholesale(t *testing.T) {
	t.Parallel()
	s := New(nil)
	_, err := s.ReplaceAll(context.Background(), []agentsync.Agent{agent("a", "A"), agent("b", "B")}, nil)
	require.NoError(t, err)
	_, err = s.ReplaceAll(context.Background(), []agentsync.Agent{agent("c", "C")}, nil)
	require.NoError(t, err)

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := New(nil)
	in := agent("a", "A")
	in.Tags = []string{"one"}
	in.Resources = []agentsync.Resource{{Type: agentsync.ResourceAPI, URL: "https://x", Headers: map[string]string{"K": "v"}}}
	_, err := s.ReplaceAll(context.Background(), []agentsync.Agent{in}, nil)
	require.NoError(t, err)

	in.Tags[0] = "mutated input"
	got, _ := s.Get("a")
	assert.Equal(t, "one", got.Tags[0])

	got.Resources[0].Headers["K"] = "mutated output"
	again, _ := s.Get("a")
	assert.Equal(t, "v", again.Resources[0].Headers["K"])
}

func TestStore_ReaderNeverSeesMixedSet(t *testing.T) {
	t.Parallel()
	s := New(nil)
	makeSet := func(version string) []agentsync.Agent {
		out := make([]agentsync.Agent, 50)
		for i := range out {
			out[i] = agent(fmt.Sprintf("agent-%02d", i), fmt.Sprintf("Agent %d", i))
			out[i].Version = version
		}
		return out
	}
	oldSet, newSet := makeSet("old"), makeSet("new")
	_, err := s.ReplaceAll(context.Background(), oldSet, nil)
	require.NoError(t, err)

	var (
		stop  atomic.Bool
		mixed atomic.Int32
		wg    sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				list := s.List()
				if len(list) != 50 {
					mixed.Add(1)
					continue
				}
				for _, a := range list {
					if a.Version != list[0].Version {
						mixed.Add(1)
						break
					}
				}
			}
		}()
	}
	for i := range 200 {
		set := oldSet
		if i%2 == 0 {
			set = newSet
		}
		_, err := s.ReplaceAll(context.Background(), set, nil)
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, mixed.Load())
}

type failingPersister struct{ MemoryPersister }

func (f *failingPersister) Save(context.Context, Snapshot) error { return errors.New("disk full") }

func TestStore_PersistFailureKeepsNewSet(t *testing.T) {
	t.Parallel()
	s := New(&failingPersister{})
	kept, err := s.ReplaceAll(context.Background(), []agentsync.Agent{agent("a", "A")}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, kept)
	_, ok := s.Get("a")
	assert.True(t, ok)
}

func TestStore_RestoreFromMemory(t *testing.T) {
	t.Parallel()
	p := NewMemoryPersister()
	first := New(p)
	_, err := first.ReplaceAll(context.Background(), []agentsync.Agent{agent("a", "A")}, []agentsync.Resource{{Type: agentsync.ResourceFile, URL: "https://g"}})
	require.NoError(t, err)

	second := New(p)
	n, err := second.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, first.SyncedAt(), second.SyncedAt())
	assert.Len(t, second.GlobalResources(), 1)
	assert.Equal(t, 1, p.Saves())
}

func TestStore_RestoreEmpty(t *testing.T) {
	t.Parallel()
	n, err := New(NewMemoryPersister()).Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLitePersister_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "agents.db")
	p, err := NewSQLitePersister(path, "")
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSnapshot)

	syncedAt := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	s := New(p, WithClock(func() time.Time { return syncedAt }))
	in := agent("reviewer", "Reviewer")
	in.Resources = []agentsync.Resource{{Type: agentsync.ResourceAPI, URL: "https://x", CacheDuration: time.Minute, Headers: map[string]string{"K": "v"}}}
	in.Templates = []string{"t1", "file:missing.md"}
	_, err = s.ReplaceAll(context.Background(), []agentsync.Agent{in, agent("helper", "Helper")}, nil)
	require.NoError(t, err)
	_, err = s.ReplaceAll(context.Background(), []agentsync.Agent{in}, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := NewSQLitePersister(path, "")
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	restored := New(reopened)
	n, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, syncedAt, restored.SyncedAt())
	got, ok := restored.Get("reviewer")
	require.True(t, ok)
	assert.Equal(t, in, got)

	other, err := NewSQLitePersister(path, "other-key")
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	_, err = other.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSQLitePersister_InMemory(t *testing.T) {
	t.Parallel()
	p, err := NewSQLitePersister(":memory:", "k")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	require.NoError(t, p.Save(context.Background(), Snapshot{Agents: []agentsync.Agent{agent("a", "A")}}))
	snap, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)
}
