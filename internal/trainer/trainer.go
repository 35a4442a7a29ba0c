// Package trainer implements the background dictionary-training loop
// (spec §4.8): it watches the efficiency tracker for a retrain signal,
// freezes and snapshots the reservoir, trains a candidate dictionary,
// and publishes it through the routing table once it clears the
// minimum-useful-output bar.
package trainer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minio/cachecomp/internal/config"
	"github.com/minio/cachecomp/internal/engine"
	"github.com/minio/cachecomp/internal/hostenv"
	"github.com/minio/cachecomp/internal/probe"
	"github.com/minio/cachecomp/internal/routing"
	"github.com/minio/cachecomp/internal/tracing"
)

const defaultNamespace = "default"

// Trainer is the single background loop described in spec §4.8. It is
// only ever active while the engine holds the leader role (engine's
// on_role_change Starts/StopsImmediate it).
type Trainer struct {
	cfg config.Config
	log *zap.Logger
	eng *engine.Engine
	env *hostenv.Env

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// New constructs a trainer bound to eng (for table/reservoir/tracker
// access and the train_active flag) and env (for id allocation,
// publication, and the reload entry point — spec's "C8 depends on C9").
func New(cfg config.Config, log *zap.Logger, eng *engine.Engine, env *hostenv.Env) *Trainer {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Trainer{cfg: cfg, log: log, eng: eng, env: env}
	eng.SetSampleHook(t.Sample)
	return t
}

// Start launches the background loop. A second call while already
// running is a no-op.
func (t *Trainer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.once = sync.Once{}
	go t.loop(ctx)
}

func (t *Trainer) loop(ctx context.Context) {
	defer close(t.doneCh)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.iterate(time.Now().UTC())
		}
	}
}

// iterate runs exactly one pass of spec §4.8's numbered steps 2-11.
func (t *Trainer) iterate(now time.Time) {
	_, span := tracing.StartSpan(context.Background(), tracing.GetTracer("trainer"), tracing.SpanTrainerIteration)
	defer span.End()

	tab := t.eng.CurrentTable()
	need := tab == nil || !tab.HasDefaultDict()
	if !need {
		need = t.eng.Tracker().ShouldRetrain(now)
	}
	if need {
		t.eng.SetTrainActive(true)
	}
	if !t.eng.TrainActive() {
		return
	}

	res := t.eng.Reservoir()
	res.CheckStartSession(now)
	if !res.Ready(now) {
		return
	}

	flat, sizes, total := res.Snapshot()
	if total == 0 || len(sizes) == 0 {
		t.eng.Stats().Global().TrainerErrors.Add(1)
		return
	}
	t.eng.Stats().Global().TrainerIterations.Add(1)

	targetSize := t.cfg.DictSize
	if targetSize <= 0 {
		targetSize = config.DefaultMaxDictSize
	}
	if targetSize > config.HardCapDictSize {
		targetSize = config.HardCapDictSize
	}

	var (
		dict []byte
		err  error
	)
	switch t.cfg.TrainMode {
	case config.TrainOptimize:
		dict, err = TrainOptimize(flat, sizes, targetSize, t.cfg.ResolvedZstdLevel())
	default:
		dict, err = TrainFast(flat, sizes, targetSize)
	}
	if err != nil {
		t.log.Warn("dictionary training failed", zap.Error(err))
		t.eng.Stats().Global().TrainerErrors.Add(1)
		return
	}
	if len(dict) < 1024 {
		t.log.Warn("trained dictionary below minimum useful size, discarding", zap.Int("bytes", len(dict)))
		t.eng.Stats().Global().TrainerErrors.Add(1)
		return
	}

	if err := t.publish(dict, now); err != nil {
		t.log.Warn("dictionary publication failed", zap.Error(err))
		t.eng.Stats().Global().TrainerErrors.Add(1)
		return
	}

	t.eng.Tracker().MarkRetrained(now)
	t.eng.SetTrainActive(false)
	t.eng.Stats().Global().TrainerPublishes.Add(1)
}

// publish implements spec §4.8 step 10-11: allocate an id, write the
// dictionary+manifest atomically, invoke reload_dictionaries, and push
// to the optional publisher.
func (t *Trainer) publish(dict []byte, now time.Time) error {
	ctx, span := tracing.StartSpan(context.Background(), tracing.GetTracer("trainer"), tracing.SpanDictPublish)
	defer span.End()

	id, err := t.env.EnvAllocDictID()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("trainer: alloc dict id: %w", err)
	}

	dir := t.env.EnvGetDictDir()
	baseName := uuid.New().String()
	sig := signatureOf(dict)

	dictPath, manifestPath, err := routing.WriteDictionaryAtomic(
		dir, baseName, dict, id, []string{defaultNamespace}, now, t.cfg.ResolvedZstdLevel(), sig)
	if err != nil {
		_ = t.env.EnvReleaseDictID(id)
		tracing.RecordError(ctx, err)
		return fmt.Errorf("trainer: write dictionary: %w", err)
	}

	if _, err := t.env.EnvReloadDicts(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("trainer: reload after publish: %w", err)
	}

	manifestBytes, readErr := os.ReadFile(manifestPath)
	if readErr == nil {
		if err := t.env.EnvPublishDict(id, baseName, dict, manifestBytes); err != nil {
			// Publication to a remote follower is best-effort; the local
			// dictionary is already durable and reload already ran (spec
			// §7: "Publication errors from the callback are counted; the
			// local dictionary is still persisted").
			t.log.Warn("dict publisher callback failed", zap.Error(err), zap.String("dict_path", dictPath))
		}
	}
	return nil
}

// StopImmediate implements the "immediate flag" stop spec §4.7 asks
// on_role_change to perform on demotion to follower: clear train_active
// and signal the loop, without joining it.
func (t *Trainer) StopImmediate() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	t.eng.SetTrainActive(false)
	t.once.Do(func() { close(t.stopCh) })
}

// Stop signals the loop and joins it (used for full process shutdown).
// A no-op if the loop was never started or was already stopped.
func (t *Trainer) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	t.once.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// Sample implements spec §4.8's hot-path sampling hook.
func (t *Trainer) Sample(key string, value []byte) {
	if !t.eng.TrainActive() {
		return
	}
	cfg := t.eng.Config()
	if len(value) < cfg.MinCompSize || (cfg.MaxCompSize > 0 && len(value) > cfg.MaxCompSize) {
		return
	}
	if !cfg.EnableSampling {
		return
	}
	if !sampleGate(cfg.SampleP) {
		return
	}
	if probe.IsLikelyIncompressible(value) {
		return
	}
	tab := t.eng.CurrentTable()
	if tab != nil && !tab.IsDefaultNS(key) {
		return
	}
	t.eng.Reservoir().Add(value, time.Now().UTC())
}

func signatureOf(b []byte) string {
	h := fnv.New64a()
	h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}

// sampleGate is spec §4.8's "with probability sample_p, proceed". The
// pack has no weighted-sampling library and a single comparison against
// the global math/rand source is sufficient here; this is the one spot
// in the trainer that reaches for the standard library over a pack
// dependency, recorded in DESIGN.md.
func sampleGate(p float64) bool {
	if p >= 1 {
		return true
	}
	if p <= 0 {
		return false
	}
	return rand.Float64() < p
}
