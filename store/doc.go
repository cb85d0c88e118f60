// Package store holds the active agent set.
//
// The set is replaced wholesale: ReplaceAll validates the incoming agents, builds a new
// immutable snapshot and swaps it in one atomic step, so readers see either the old set or
// the new one and never a mix. The snapshot is then handed to a Persister so a later start can
// Restore it without network access.
package store
