package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/skosovsky/agentsync"

	"gopkg.in/yaml.v3"
)

// ErrFormat indicates the document could not be decoded or lacks version or agents.
var ErrFormat = errors.New("manifest: invalid format")

// FilePrefix marks a prompt or template whose text lives in a repository file.
const FilePrefix = "file:"

// List names used in DecodeError.
const (
	ListAgents          = "agents"
	ListGlobalResources = "globalResources"
)

// Manifest is the decoded document. Items of agents or globalResources that do not decode into
// their entry type are left out and reported in Skipped.
type Manifest struct {
	Version         string          `json:"version" yaml:"version"`
	Agents          []Entry         `json:"agents" yaml:"agents"`
	GlobalResources []ResourceEntry `json:"globalResources,omitempty" yaml:"globalResources,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Skipped         []DecodeError   `json:"-" yaml:"-"`
}

// DecodeError describes one list item that could not be decoded.
type DecodeError struct {
	List  string
	Index int
	Err   error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("manifest: %s[%d]: %v", e.List, e.Index, e.Err)
}

// Unwrap returns the decoder error.
func (e *DecodeError) Unwrap() error { return e.Err }

var _ error = (*DecodeError)(nil)

// jsonDocument and yamlDocument hold the lists undecoded so one bad item does not fail the document.
type jsonDocument struct {
	Version         string            `json:"version"`
	Agents          []json.RawMessage `json:"agents"`
	GlobalResources []json.RawMessage `json:"globalResources"`
	Metadata        map[string]any    `json:"metadata"`
}

type yamlDocument struct {
	Version         string         `yaml:"version"`
	Agents          []yaml.Node    `yaml:"agents"`
	GlobalResources []yaml.Node    `yaml:"globalResources"`
	Metadata        map[string]any `yaml:"metadata"`
}

// Entry is one agent as written in the manifest. Prompt and each template may be a file reference.
type Entry struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string          `json:"prompt" yaml:"prompt"`
	Resources   []ResourceEntry `json:"resources,omitempty" yaml:"resources,omitempty"`
	Examples    []string        `json:"examples,omitempty" yaml:"examples,omitempty"`
	Templates   []string        `json:"templates,omitempty" yaml:"templates,omitempty"`
	Tags        []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	// Enabled is nil when absent; absent means enabled.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// ResourceEntry is a resource as written in the manifest. CacheDuration is in milliseconds.
type ResourceEntry struct {
	URL           string            `json:"url" yaml:"url"`
	Type          string            `json:"type" yaml:"type"`
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	CacheDuration int64             `json:"cacheDuration,omitempty" yaml:"cacheDuration,omitempty"`
}

// Resource converts the entry to the domain type without validating it.
func (r ResourceEntry) Resource() agentsync.Resource {
	return agentsync.Resource{
		URL:           r.URL,
		Type:          agentsync.ResourceType(r.Type),
		Name:          r.Name,
		Description:   r.Description,
		Headers:       r.Headers,
		CacheDuration: time.Duration(r.CacheDuration) * time.Millisecond,
	}
}

// Agent converts the entry to the domain type without validating it or resolving references.
func (e Entry) Agent() agentsync.Agent {
	a := agentsync.Agent{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Prompt:      e.Prompt,
		Examples:    e.Examples,
		Templates:   e.Templates,
		Tags:        e.Tags,
		Version:     e.Version,
		Enabled:     e.Enabled == nil || *e.Enabled,
	}
	if len(e.Resources) > 0 {
		a.Resources = make([]agentsync.Resource, len(e.Resources))
		for i, r := range e.Resources {
			a.Resources[i] = r.Resource()
		}
	}
	return a
}

// IsFileRef reports whether s is a file reference and returns the referenced path.
func IsFileRef(s string) (string, bool) {
	path, ok := strings.CutPrefix(s, FilePrefix)
	if !ok {
		return "", false
	}
	path = strings.TrimSpace(path)
	return path, path != ""
}

// Parse decodes a manifest. Documents starting with '{' are read as JSON, anything else as YAML.
// Returns ErrFormat when the document does not decode or lacks version or agents. Items of the
// agents and globalResources lists are decoded one by one; failures are recorded in Skipped.
func Parse(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrFormat)
	}
	var (
		m   *Manifest
		err error
	)
	if trimmed[0] == '{' {
		m, err = parseJSON(trimmed)
	} else {
		m, err = parseYAML(trimmed)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Version) == "" {
		return nil, fmt.Errorf("%w: missing version", ErrFormat)
	}
	if m.Agents == nil {
		return nil, fmt.Errorf("%w: missing agents", ErrFormat)
	}
	return m, nil
}

func parseJSON(data []byte) (*Manifest, error) {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	m := &Manifest{Version: doc.Version, Metadata: doc.Metadata}
	if doc.Agents != nil {
		m.Agents = make([]Entry, 0, len(doc.Agents))
	}
	for i, raw := range doc.Agents {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			m.Skipped = append(m.Skipped, DecodeError{List: ListAgents, Index: i, Err: err})
			continue
		}
		m.Agents = append(m.Agents, e)
	}
	for i, raw := range doc.GlobalResources {
		var r ResourceEntry
		if err := json.Unmarshal(raw, &r); err != nil {
			m.Skipped = append(m.Skipped, DecodeError{List: ListGlobalResources, Index: i, Err: err})
			continue
		}
		m.GlobalResources = append(m.GlobalResources, r)
	}
	return m, nil
}

func parseYAML(data []byte) (*Manifest, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	m := &Manifest{Version: doc.Version, Metadata: doc.Metadata}
	if doc.Agents != nil {
		m.Agents = make([]Entry, 0, len(doc.Agents))
	}
	for i := range doc.Agents {
		var e Entry
		if err := doc.Agents[i].Decode(&e); err != nil {
			m.Skipped = append(m.Skipped, DecodeError{List: ListAgents, Index: i, Err: err})
			continue
		}
		m.Agents = append(m.Agents, e)
	}
	for i := range doc.GlobalResources {
		var r ResourceEntry
		if err := doc.GlobalResources[i].Decode(&r); err != nil {
			m.Skipped = append(m.Skipped, DecodeError{List: ListGlobalResources, Index: i, Err: err})
			continue
		}
		m.GlobalResources = append(m.GlobalResources, r)
	}
	return m, nil
}

// ParseFile reads and parses a manifest file.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is validated by caller
	if err != nil {
		return nil, fmt.Errorf("manifest: read file: %w", err)
	}
	return Parse(data)
}

// ParseFS reads and parses a manifest from fs.FS (e.g. embed.FS).
func ParseFS(fsys fs.FS, name string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("manifest: read fs: %w", err)
	}
	return Parse(data)
}
