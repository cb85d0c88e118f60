package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/skosovsky/agentsync/fetch"
)

// Source reads a file from a repository by its repository-relative path.
// Return ErrNotFound when the file does not exist; wrap other failures in ErrFetchFailed.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
	// Location describes the repository for logs and status.
	Location() string
}

// Getter is the HTTP primitive HTTPSource reads through. *fetch.Client implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*fetch.Response, error)
}

var (
	_ Source = (*HTTPSource)(nil)
	_ Source = (*FSSource)(nil)
	_ Getter = (*fetch.Client)(nil)
)

// HTTPSource reads raw files over HTTP using RawURL.
type HTTPSource struct {
	repoURL string
	branch  string
	client  Getter
}

// NewHTTPSource creates an HTTPSource for repoURL at branch. A nil client uses fetch.New().
func NewHTTPSource(repoURL, branch string, client Getter) *HTTPSource {
	if client == nil {
		client = fetch.New()
	}
	return &HTTPSource{repoURL: repoURL, branch: branch, client: client}
}

// Fetch GETs the raw URL for path. The caller's ctx bounds the request.
func (s *HTTPSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	u := RawURL(s.repoURL, s.branch, path)
	resp, err := s.client.Get(ctx, u, map[string]string{"Accept": "*/*"}, 0)
	if err != nil {
		if fetch.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return resp.Body, nil
}

// Location returns the repository URL and branch.
func (s *HTTPSource) Location() string { return s.repoURL + "@" + s.branch }

// FSSource reads files from an fs.FS laid out like the repository root.
type FSSource struct {
	fsys fs.FS
	name string
}

// NewFSSource creates an FSSource. name is used only by Location.
func NewFSSource(fsys fs.FS, name string) *FSSource {
	return &FSSource{fsys: fsys, name: name}
}

// Fetch reads path from the filesystem. Paths must be unrooted and slash-separated (fs.ValidPath).
func (s *FSSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	path = strings.TrimPrefix(path, "/")
	if !fs.ValidPath(path) {
		return nil, fmt.Errorf("%w: invalid path %q", ErrFetchFailed, path)
	}
	data, err := fs.ReadFile(s.fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return data, nil
}

// Location returns the name given to NewFSSource.
func (s *FSSource) Location() string { return s.name }

// NewSource picks a Source for repoURL: file:// URLs and existing local directories read from
// disk; http(s) and git@ addresses read raw files through client.
func NewSource(repoURL, branch string, client Getter) (Source, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrInvalidRepository)
	}
	if dir, ok := strings.CutPrefix(repoURL, "file://"); ok {
		return dirSource(dir)
	}
	if strings.HasPrefix(repoURL, "git@") {
		return NewHTTPSource(repoURL, branch, client), nil
	}
	if u, err := url.Parse(repoURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return NewHTTPSource(repoURL, branch, client), nil
	}
	if info, err := os.Stat(repoURL); err == nil && info.IsDir() {
		return dirSource(repoURL)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidRepository, repoURL)
}

func dirSource(dir string) (Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRepository, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrInvalidRepository, dir)
	}
	return NewFSSource(os.DirFS(dir), "file://"+dir), nil
}
