// Copyright 2025 Forge ML Compiler. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cache provides the public API for engine caches.
package cache

import (
	"github.com/born-ml/forge/internal/cache"
	"github.com/born-ml/forge/internal/engine"
	"github.com/born-ml/forge/internal/graph"
	"github.com/born-ml/forge/internal/input"
)

// Cache stores compiled engines keyed by structural fingerprint.
type Cache = cache.Cache

// CompiledEngine is a packaged build result as stored in a cache.
type CompiledEngine = engine.CompiledEngine

// In-tree cache implementations.
type (
	MemoryCache = cache.MemoryCache
	DiskCache   = cache.DiskCache
)

// NewMemoryCache creates an in-memory LRU cache with a byte budget.
func NewMemoryCache(budget int64) *MemoryCache {
	return cache.NewMemoryCache(budget)
}

// NewDiskCache opens a persistent engine cache under dir with a byte
// budget.
func NewDiskCache(dir string, budget int64) (*DiskCache, error) {
	return cache.NewDiskCache(dir, budget)
}

// Fingerprint computes the structural cache key for a graph under an
// input specification and codegen settings digest.
func Fingerprint(g *graph.Graph, specs []*input.Spec, settingsDigest string) string {
	return cache.Fingerprint(g, specs, settingsDigest)
}
