// Package cache stores compiled engines keyed by structural graph
// fingerprint, so recompiling an unchanged architecture becomes a
// lookup plus an optional weight refit.
package cache

import "github.com/born-ml/forge/internal/engine"

// Cache is the pluggable engine store. Implementations must be safe
// for concurrent use.
type Cache interface {
	// Lookup returns the cached engine for a fingerprint, or ok=false
	// on a miss. The returned engine is the caller's to keep.
	Lookup(fingerprint string) (result *engine.CompiledEngine, ok bool, err error)

	// Store inserts or replaces the entry for a fingerprint. The cache
	// may evict other entries to stay within its size budget, and may
	// decline entries larger than the budget.
	Store(fingerprint string, result *engine.CompiledEngine) error
}
