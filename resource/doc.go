// Package resource loads agent resources over HTTP and caches their content.
// Loads never fail: a fresh cache hit returns without network I/O, a failed refresh serves the
// last good content with the error attached, and a failed first load returns empty content with
// the error attached. Preload warms the cache for many owners with bounded concurrency.
package resource
