// Package engine implements the compression engine (spec §4.7): the
// hot encode/decode path, the single current routing-table pointer,
// and the per-namespace statistics registry. It is the component
// every external collaborator (a host cache, a replication layer, a
// CLI demo) actually calls.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/minio/cachecomp/internal/config"
	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/efficiency"
	"github.com/minio/cachecomp/internal/reservoir"
	"github.com/minio/cachecomp/internal/routing"
	"github.com/minio/cachecomp/internal/stats"
)

// Dictionary-id sentinels for the stored-value wire format (spec §6).
const (
	NoDictID  uint16 = 0x0000
	RawDictID uint16 = 0xFFFF
)

// trainerControl is the minimal surface Engine needs to start/stop the
// trainer on a role change (spec §4.7 "on_role_change"). Defined here
// rather than importing internal/trainer directly, since C8 depends on
// C7 and an import the other way would cycle; the trainer is wired in
// after construction via Attach.
type trainerControl interface {
	Start(ctx context.Context)
	StopImmediate()
}

// gcControl is the subset of *gc.GC's API the engine drives on a role
// change. internal/gc does not depend on the engine, so Engine could
// import *gc.GC directly, but the interface keeps wiring symmetric
// with trainerControl and keeps this package testable without gc.
type gcControl interface {
	Start(ctx context.Context)
	StopNowait()
}

// Engine owns the hot compression path plus the single current
// routing-table pointer (spec §4.7 state list).
type Engine struct {
	cfg    config.Config
	log    *zap.Logger
	pool   *dictpool.Pool
	tracker *efficiency.Tracker

	table atomic.Pointer[routing.Table]

	trainActive  atomic.Bool
	bytesPending atomic.Int64

	stats     *stats.Registry
	reservoir *reservoir.Reservoir

	plainEnc sync.Pool
	plainDec sync.Pool

	gcInst      gcControl
	trainerInst trainerControl
	retireFn    func(*routing.Table) // enqueue to GC; set via AttachGC

	sampleHook func(key string, value []byte)

	mu sync.Mutex // guards Attach* wiring only, not the hot path
}

// New constructs an engine over an already-validated configuration. It
// does not start the trainer or GC; the host drives those via
// on_role_change (or directly, for single-process tests).
func New(cfg config.Config, log *zap.Logger, pool *dictpool.Pool, tracker *efficiency.Tracker) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		tracker: tracker,
		stats:   stats.New(),
	}
	e.reservoir = reservoir.New(cfg.SpoolMaxBytes, cfg.SampleWindow(), 0x9e3779b97f4a7c15)
	e.plainEnc.New = func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.ResolvedZstdLevel())))
		if err != nil {
			return nil
		}
		return enc
	}
	e.plainDec.New = func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil
		}
		return dec
	}
	return e
}

// Reservoir exposes the bootstrap reservoir instance for the trainer's
// sampling hook and background loop (spec §4.7 state: "a bootstrap
// reservoir instance").
func (e *Engine) Reservoir() *reservoir.Reservoir { return e.reservoir }

// Tracker exposes the efficiency tracker for the trainer's
// should_retrain / mark_retrained calls.
func (e *Engine) Tracker() *efficiency.Tracker { return e.tracker }

// Stats exposes the per-namespace statistics registry.
func (e *Engine) Stats() *stats.Registry { return e.stats }

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Pool exposes the shared dictionary pool (trainer needs it to retain
// newly published dictionaries).
func (e *Engine) Pool() *dictpool.Pool { return e.pool }

// TrainActive reports the current value of the train_active flag.
func (e *Engine) TrainActive() bool { return e.trainActive.Load() }

// SetTrainActive implements the trainer's step 3/11 flag transitions.
func (e *Engine) SetTrainActive(v bool) { e.trainActive.Store(v) }

// CurrentTable does an acquire-load of the published routing table. May
// be nil before the first publish_table call.
func (e *Engine) CurrentTable() *routing.Table { return e.table.Load() }

// SetSampleHook wires the trainer's Sample method into the hot path so
// encode can feed the reservoir without C7 importing C8 (spec's data
// flow diagram: "the encoded path also feeds C2 and C4").
func (e *Engine) SetSampleHook(fn func(key string, value []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleHook = fn
}

// AttachTrainer wires the trainer instance on_role_change starts/stops.
func (e *Engine) AttachTrainer(t trainerControl) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trainerInst = t
}

// AttachGC wires the GC instance on_role_change starts/stops, and the
// function publish_table uses to enqueue a retired table.
func (e *Engine) AttachGC(g gcControl, enqueue func(*routing.Table)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gcInst = g
	e.retireFn = enqueue
}

// PublishTable implements spec §4.7 "publish_table": set
// generation = old.gen + 1, release-store the new table, and enqueue
// the old one (if any) to the GC. Generation is computed here, not by
// the table builder, so every publish path (trainer-built ClonePlus
// tables and scan-rebuilt tables alike) gets the same strictly
// increasing counter regardless of what generation the builder left on
// newTable.
func (e *Engine) PublishTable(newTable *routing.Table) {
	prev := e.table.Load()
	if prev != nil {
		newTable.Generation = prev.Generation + 1
	} else {
		newTable.Generation = 1
	}

	old := e.table.Swap(newTable)
	e.mu.Lock()
	retire := e.retireFn
	e.mu.Unlock()
	if old != nil && retire != nil {
		retire(old)
	}
	e.log.Debug("published routing table", zap.Uint64("generation", newTable.Generation))
}

// ReloadStatus is returned by ReloadDictionaries (spec §4.7
// "reload_dictionaries() → status").
type ReloadStatus struct {
	Loaded, New, Reused, Failed int
}

// ReloadDictionaries rescans the dictionary directory and publishes the
// resulting table. scanFn is injected by the caller (normally
// routing.Scan) so this package does not need to know about the
// on-disk layout directly.
func (e *Engine) ReloadDictionaries(scanFn func() (*routing.Table, error)) (ReloadStatus, error) {
	old := e.CurrentTable()
	newTable, err := scanFn()
	if err != nil {
		e.log.Warn("dictionary reload failed, keeping current table", zap.Error(err))
		return ReloadStatus{}, fmt.Errorf("engine: reload dictionaries: %w", err)
	}

	status := ReloadStatus{Loaded: len(newTable.All)}
	if old != nil {
		oldByKey := make(map[string]bool, len(old.All))
		for _, m := range old.All {
			oldByKey[m.IdentityKey()] = true
		}
		for _, m := range newTable.All {
			if oldByKey[m.IdentityKey()] {
				status.Reused++
			} else {
				status.New++
			}
		}
	} else {
		status.New = len(newTable.All)
	}

	e.PublishTable(newTable)
	return status, nil
}

// OnRoleChange implements spec §4.7 "on_role_change": leaders run the
// trainer and GC, followers stop both (trainer immediately, GC without
// waiting for its current tick).
func (e *Engine) OnRoleChange(ctx context.Context, isLeader bool) {
	e.mu.Lock()
	trainerInst := e.trainerInst
	gcInst := e.gcInst
	e.mu.Unlock()

	if isLeader {
		if gcInst != nil {
			gcInst.Start(ctx)
		}
		if trainerInst != nil {
			trainerInst.Start(ctx)
		}
		e.log.Info("role change: leader, trainer and gc started")
		return
	}

	e.trainActive.Store(false)
	if trainerInst != nil {
		trainerInst.StopImmediate()
	}
	if gcInst != nil {
		gcInst.StopNowait()
	}
	e.log.Info("role change: follower, trainer and gc stopped")
}
