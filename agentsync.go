package agentsync

import (
	"context"
	"maps"
	"slices"
	"time"
)

// ResourceType is the declared kind of a resource. It selects the Accept header and the
// normalization applied to the fetched body.
type ResourceType string

// Resource kinds.
const (
	ResourceURL  ResourceType = "url"
	ResourceFile ResourceType = "file"
	ResourceAPI  ResourceType = "api"
)

// Valid reports whether t is one of the known resource kinds.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceURL, ResourceFile, ResourceAPI:
		return true
	default:
		return false
	}
}

// Resource is an external piece of content an agent references for context.
// Cache identity is (URL, Headers); CacheDuration zero means the loader default.
type Resource struct {
	URL           string            `json:"url"`
	Type          ResourceType      `json:"type"`
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	CacheDuration time.Duration     `json:"cacheDuration,omitempty"`
}

// Agent is a prompt plus the resources it draws on. Prompt holds the resolved text once the
// repository fetcher has substituted any file reference.
type Agent struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Prompt      string     `json:"prompt"`
	Resources   []Resource `json:"resources,omitempty"`
	Examples    []string   `json:"examples,omitempty"`
	Templates   []string   `json:"templates,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Version     string     `json:"version,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// ResourceContent is the result of one load. Error is empty on a fresh or cached success.
// When Error is set, Content holds the last good body if one was cached (Stale is true), or is empty.
type ResourceContent struct {
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	LoadedAt  time.Time `json:"loadedAt"`
	Error     string    `json:"error,omitempty"`
	FromCache bool      `json:"fromCache,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
}

// OK reports whether the load succeeded (fresh or cache hit).
func (c ResourceContent) OK() bool { return c.Error == "" }

// Loader loads resource content. Implementations never fail the call; errors are reported in
// ResourceContent.Error.
type Loader interface {
	LoadOne(ctx context.Context, r Resource) ResourceContent
	LoadMany(ctx context.Context, rs []Resource) []ResourceContent
}

// CloneResource returns a deep copy of r.
func CloneResource(r Resource) Resource {
	r.Headers = maps.Clone(r.Headers)
	return r
}

// CloneAgent returns a deep copy of a so callers cannot mutate shared state.
func CloneAgent(a Agent) Agent {
	if a.Resources != nil {
		res := make([]Resource, len(a.Resources))
		for i, r := range a.Resources {
			res[i] = CloneResource(r)
		}
		a.Resources = res
	}
	a.Examples = slices.Clone(a.Examples)
	a.Templates = slices.Clone(a.Templates)
	a.Tags = slices.Clone(a.Tags)
	return a
}
