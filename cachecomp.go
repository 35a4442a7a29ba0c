// Package cachecomp wires the ten components (C1-C10) into one
// embeddable compression core. A host constructs a Core with New,
// attaches it to its cache's read/write paths via Encode/Decode, and
// drives SetNodeRole as its own replication role changes.
package cachecomp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/minio/cachecomp/internal/config"
	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/efficiency"
	"github.com/minio/cachecomp/internal/engine"
	"github.com/minio/cachecomp/internal/gc"
	"github.com/minio/cachecomp/internal/hostenv"
	"github.com/minio/cachecomp/internal/routing"
	"github.com/minio/cachecomp/internal/trainer"
	"github.com/minio/cachecomp/internal/tracing"
)

// Core bundles the engine (C7), trainer (C8), GC (C6), and environment
// seam (C9) that an embedding host needs. The dictionary pool (C3) and
// efficiency tracker (C4) are engine-owned internals reachable through
// Engine() for diagnostics.
type Core struct {
	cfg config.Config
	log *zap.Logger

	pool    *dictpool.Pool
	tracker *efficiency.Tracker
	eng     *engine.Engine
	gcInst  *gc.GC
	trainer *trainer.Trainer
	env     *hostenv.Env
}

// New validates cfg and assembles every component, wiring C9's role
// seam to C7's on_role_change and C8's trainer to C7/C9 (spec §2
// dependency order: C7 depends on C1,C3,C4,C5; C8 depends on
// C2,C4,C5,C7,C9).
func New(cfg config.Config, log *zap.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cachecomp: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool := dictpool.New()
	tracker := efficiency.New()
	tracker.Configure(cfg.EnableTraining, cfg.RetrainingIntervalSec, cfg.MinTrainingSize, cfg.EwmaAlpha, cfg.RetrainDrop)

	eng := engine.New(cfg, log, pool, tracker)

	gcInst := gc.New(pool, cfg.GCCoolPeriod(), 256, log)
	eng.AttachGC(gcInst, gcInst.EnqueueRetired)

	env := hostenv.New(log, cfg.DictDir, func() map[uint16]bool {
		tab := eng.CurrentTable()
		if tab == nil {
			return nil
		}
		used := make(map[uint16]bool, len(tab.All))
		for _, m := range tab.All {
			used[m.ID] = true
		}
		return used
	})
	env.AttachEngine(eng, &reloadAdapter{eng: eng, cfg: cfg, pool: pool})

	tr := trainer.New(cfg, log, eng, env)
	eng.AttachTrainer(tr)

	c := &Core{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		tracker: tracker,
		eng:     eng,
		gcInst:  gcInst,
		trainer: tr,
		env:     env,
	}
	return c, nil
}

// Bootstrap does the initial directory scan and publishes the first
// routing table, then initializes the efficiency tracker's clock. Call
// once after New, before serving traffic.
func (c *Core) Bootstrap() error {
	ctx, span := tracing.StartSpan(context.Background(), tracing.GetTracer("cachecomp"), tracing.SpanBootstrap)
	defer span.End()

	c.tracker.Init(time.Now().UTC())
	_, err := c.eng.ReloadDictionaries(func() (*routing.Table, error) {
		return routing.Scan(c.cfg.DictDir, c.cfg.DictRetainMax, c.cfg.QuarantinePeriod(), c.cfg.ResolvedZstdLevel(), c.pool)
	})
	if errors.Is(err, routing.ErrNoManifests) {
		// A brand-new dictionary directory with nothing trained yet is
		// not fatal: encode/decode run fine with a nil table (no
		// dictionaries, did=0 for every key) until the trainer publishes
		// the first one.
		tracing.AddSpanEvent(ctx, "no_dictionaries_found")
		c.log.Info("no dictionaries on disk yet, starting with no-dictionary routing")
		return nil
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// Encode/Decode/EncodeWire/DecodeWire delegate to the engine so callers
// can depend on *cachecomp.Core alone.

func (c *Core) Encode(key string, value []byte) ([]byte, uint16, error) { return c.eng.Encode(key, value) }
func (c *Core) Decode(frame []byte, dictID uint16, maxOut int) ([]byte, error) {
	return c.eng.Decode(frame, dictID, maxOut)
}
func (c *Core) EncodeWire(key string, value []byte) ([]byte, error) { return c.eng.EncodeWire(key, value) }
func (c *Core) DecodeWire(stored []byte, maxOut int) ([]byte, error) { return c.eng.DecodeWire(stored, maxOut) }

// Engine exposes the underlying engine for diagnostics/statistics.
func (c *Core) Engine() *engine.Engine { return c.eng }

// Env exposes the environment seam so a host can call SetNodeRole,
// SetDictPublisher, and SetDictIDProvider.
func (c *Core) Env() *hostenv.Env { return c.env }

// Shutdown stops the trainer and GC loops, joining them.
func (c *Core) Shutdown() {
	c.trainer.Stop()
	c.gcInst.Stop()
}

// reloadAdapter bridges hostenv's reloader interface to the engine's
// reload path without hostenv importing internal/routing or
// internal/engine's concrete ReloadStatus type.
type reloadAdapter struct {
	eng  *engine.Engine
	cfg  config.Config
	pool *dictpool.Pool
}

func (r *reloadAdapter) Reload() (hostenv.ReloadStatus, error) {
	status, err := r.eng.ReloadDictionaries(func() (*routing.Table, error) {
		return routing.Scan(r.cfg.DictDir, r.cfg.DictRetainMax, r.cfg.QuarantinePeriod(), r.cfg.ResolvedZstdLevel(), r.pool)
	})
	return hostenv.ReloadStatus{Loaded: status.Loaded, New: status.New, Reused: status.Reused, Failed: status.Failed}, err
}

// StartLeader is a convenience that sets the node role to leader,
// starting the trainer and GC via the role seam (spec §4.7
// on_role_change, §4.9 set_node_role).
func (c *Core) StartLeader(ctx context.Context) {
	c.env.SetNodeRole(ctx, hostenv.RoleLeader)
}

// StartFollower sets the node role to follower, stopping the trainer
// immediately and the GC without waiting out its current tick.
func (c *Core) StartFollower(ctx context.Context) {
	c.env.SetNodeRole(ctx, hostenv.RoleFollower)
}
