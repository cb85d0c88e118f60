package resource

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/skosovsky/agentsync"
)

// Entry is the last successfully fetched content for a cache key.
type Entry struct {
	Content   string
	FetchedAt time.Time
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.FetchedAt) }

// Cache maps a resource identity to its last fetched content. Entries are never evicted on a
// timer: staleness is decided at read time so an expired entry can still serve as a fallback.
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Get returns the entry for key, fresh or not.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores content for key fetched at now, replacing any previous entry.
func (c *Cache) Put(key, content string, now time.Time) {
	c.mu.Lock()
	c.entries[key] = Entry{Content: content, FetchedAt: now}
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// ClearExpired removes entries older than maxAge at now and returns how many were removed.
func (c *Cache) ClearExpired(maxAge time.Duration, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if e.Age(now) > maxAge {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Key returns the cache identity of r: the URL plus its serialized headers.
// Two resources with the same URL and different headers are distinct entries.
func Key(r agentsync.Resource) string {
	if len(r.Headers) == 0 {
		return r.URL + "\x00{}"
	}
	// encoding/json writes map keys sorted, so equal header sets serialize identically.
	h, err := json.Marshal(r.Headers)
	if err != nil {
		return r.URL + "\x00{}"
	}
	return r.URL + "\x00" + string(h)
}
