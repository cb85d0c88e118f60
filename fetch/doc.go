// Package fetch is the HTTP primitive shared by the resource loader and the repository
// fetcher: one GET with its own timeout, merged headers, a body size cap, error
// classification and an optional per-host circuit breaker.
package fetch
