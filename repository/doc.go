// Package repository retrieves agent definitions from a source-control repository.
//
// Files are read as raw content over HTTP; RawURL maps a repository's human-facing URL plus a
// branch and path to the address that serves the file bytes for GitHub, GitLab, Bitbucket and
// Codeberg, with a generic <repo>/raw/<branch>/<path> fallback. A local directory (or file://
// URL) can stand in for the repository during development.
//
// Fetcher.FetchAgents downloads the manifest, validates each entry independently and resolves
// "file:" references in prompts (agents/ directory) and templates (templates/ directory).
// A failed reference keeps its literal text; only a failed manifest fetch fails the call.
package repository
