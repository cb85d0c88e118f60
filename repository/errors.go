package repository

import "errors"

// Sentinel errors for repository operations.
// Callers should use errors.Is to check.
var (
	// ErrFetchFailed indicates a file could not be retrieved from the repository.
	ErrFetchFailed = errors.New("repository: fetch failed")
	// ErrNotFound indicates the requested file does not exist in the repository.
	ErrNotFound = errors.New("repository: file not found")
	// ErrFormat indicates the manifest was retrieved but is not a valid manifest.
	ErrFormat = errors.New("repository: invalid manifest")
	// ErrReference indicates a file: reference could not be resolved. Never returned by
	// FetchAgents; logged while the literal text is kept.
	ErrReference = errors.New("repository: reference not resolved")
	// ErrInvalidRepository indicates the repository URL is neither an HTTP(S), SSH nor local location.
	ErrInvalidRepository = errors.New("repository: invalid repository location")
)
