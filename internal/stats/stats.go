// Package stats implements the per-namespace (and global) statistics
// registry spec.md §4.7 requires the compression engine to expose:
// byte totals, op counts, error counts, skip counters, and trainer
// progress, updated with single-writer-per-counter relaxed atomics.
//
// This is adapted from the teacher pack's sharded tenant-statistics
// registries (internal/tenant/tenantmanager_v3.go's lock-free sharded
// map and tenantmanager_v2.go's simpler global aggregate) generalized
// from per-tenant request counters to per-namespace compression
// counters.
package stats

import (
	"sync"
	"sync/atomic"
)

type counter = atomic.Int64

// Counters is one record's worth of atomic counters. All fields are
// exported so they can be bumped directly with .Add(1) from any
// goroutine; there is exactly one logical writer per counter per
// operation, so plain atomics (no locks) are correct here.
type Counters struct {
	BytesRaw        counter
	BytesCompressed counter

	ReadOps  counter
	WriteOps counter

	ErrCompress   counter
	ErrDecompress counter
	ErrDictMiss   counter

	SkipMinSize        counter
	SkipMaxSize        counter
	SkipIncompressible counter
	SkipDisabled       counter

	TrainerIterations counter
	TrainerErrors     counter
	TrainerPublishes  counter
}

// Snapshot is a point-in-time, non-atomic copy of Counters suitable for
// reporting (JSON encoding, log lines, a diagnostics endpoint).
type Snapshot struct {
	BytesRaw, BytesCompressed                               int64
	ReadOps, WriteOps                                       int64
	ErrCompress, ErrDecompress, ErrDictMiss                  int64
	SkipMinSize, SkipMaxSize, SkipIncompressible, SkipDisabled int64
	TrainerIterations, TrainerErrors, TrainerPublishes      int64
}

// Snapshot reads every counter once. Individual fields may be
// momentarily inconsistent with each other under concurrent writers,
// which is acceptable for a diagnostics view.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		BytesRaw:           c.BytesRaw.Load(),
		BytesCompressed:    c.BytesCompressed.Load(),
		ReadOps:            c.ReadOps.Load(),
		WriteOps:           c.WriteOps.Load(),
		ErrCompress:        c.ErrCompress.Load(),
		ErrDecompress:      c.ErrDecompress.Load(),
		ErrDictMiss:        c.ErrDictMiss.Load(),
		SkipMinSize:        c.SkipMinSize.Load(),
		SkipMaxSize:        c.SkipMaxSize.Load(),
		SkipIncompressible: c.SkipIncompressible.Load(),
		SkipDisabled:       c.SkipDisabled.Load(),
		TrainerIterations:  c.TrainerIterations.Load(),
		TrainerErrors:      c.TrainerErrors.Load(),
		TrainerPublishes:   c.TrainerPublishes.Load(),
	}
}

// Registry owns the global counters plus one Counters record per
// namespace prefix, created lazily on first touch.
type Registry struct {
	global Counters

	mu   sync.RWMutex
	byNS map[string]*Counters
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{byNS: make(map[string]*Counters)}
}

// Global returns the process-wide aggregate counters.
func (r *Registry) Global() *Counters { return &r.global }

// ForNamespace returns the counters for ns, creating them on first use.
func (r *Registry) ForNamespace(ns string) *Counters {
	r.mu.RLock()
	c, ok := r.byNS[ns]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byNS[ns]; ok {
		return c
	}
	c = &Counters{}
	r.byNS[ns] = c
	return c
}

// Namespaces returns a snapshot of every namespace currently tracked,
// keyed by prefix.
func (r *Registry) Namespaces() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.byNS))
	for ns, c := range r.byNS {
		out[ns] = c.Snapshot()
	}
	return out
}
