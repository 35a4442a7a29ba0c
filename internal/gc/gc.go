// Package gc implements quiescence-based reclamation of retired
// routing-table snapshots (spec §4.6). A background goroutine drains a
// lock-free MPSC queue, waits out a cool-down period so in-flight
// readers can finish, then releases every metadata record from the
// dictionary pool and lets the table itself become garbage.
package gc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/routing"
	"github.com/minio/cachecomp/internal/tracing"
)

// retiredItem is one queued table awaiting reclamation.
type retiredItem struct {
	table      *routing.Table
	enqueuedAt time.Time
}

// ringBuffer is a fixed-capacity lock-free MPSC queue of *retiredItem,
// the same head/tail CAS ring the teacher's cache engine uses for its
// task queues, generalized to carry retired tables instead of raw
// cache-entry pointers.
type ringBuffer struct {
	buf  []unsafe.Pointer
	mask uint64
	head atomic.Uint64
	tail atomic.Uint64
}

func newRingBuffer(size int) *ringBuffer {
	// round up to a power of two
	n := 1
	for n < size {
		n <<= 1
	}
	return &ringBuffer{buf: make([]unsafe.Pointer, n), mask: uint64(n - 1)}
}

func (r *ringBuffer) push(item *retiredItem) bool {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head-tail >= uint64(len(r.buf)) {
			return false
		}
		if r.head.CompareAndSwap(head, head+1) {
			r.buf[head&r.mask] = unsafe.Pointer(item)
			return true
		}
	}
}

func (r *ringBuffer) pop() *retiredItem {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail >= head {
			return nil
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			p := r.buf[tail&r.mask]
			return (*retiredItem)(p)
		}
	}
}

// GC drains retired routing tables after a configured cool-down.
type GC struct {
	pool       *dictpool.Pool
	coolPeriod time.Duration
	queue      *ringBuffer
	log        *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
	active atomic.Bool

	reclaimed atomic.Uint64
	dropped   atomic.Uint64
}

// New constructs a GC over pool with the given cool-down and a queue
// capacity (rounded up to a power of two). A nil logger falls back to
// a no-op one, matching the rest of this tree's constructor idiom.
func New(pool *dictpool.Pool, coolPeriod time.Duration, queueCapacity int, log *zap.Logger) *GC {
	if queueCapacity < 16 {
		queueCapacity = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GC{
		pool:       pool,
		coolPeriod: coolPeriod,
		queue:      newRingBuffer(queueCapacity),
		log:        log,
	}
}

// EnqueueRetired is non-blocking and safe from any thread. If the
// retirement ring is full the table is dropped and its dictionary
// refcounts leak; this is logged so the failure is observable instead
// of silent, the same way hostenv's watcher logs a dropped reload.
func (g *GC) EnqueueRetired(old *routing.Table) {
	if old == nil {
		return
	}
	if !g.queue.push(&retiredItem{table: old, enqueuedAt: time.Now()}) {
		g.dropped.Add(1)
		g.log.Warn("gc retirement queue full, dropping retired table",
			zap.Uint64("generation", old.Generation),
			zap.Uint64("dropped_total", g.dropped.Load()))
	}
}

// Start launches the background reclamation loop.
func (g *GC) Start(ctx context.Context) {
	if !g.active.CompareAndSwap(false, true) {
		return
	}
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.once = sync.Once{}

	go g.loop(ctx)
}

func (g *GC) loop(ctx context.Context) {
	defer close(g.doneCh)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.drainReady()
		}
	}
}

func (g *GC) drainReady() {
	var pending []*retiredItem
	for {
		item := g.queue.pop()
		if item == nil {
			break
		}
		if time.Since(item.enqueuedAt) < g.coolPeriod {
			pending = append(pending, item)
			continue
		}
		g.reclaim(item.table)
	}
	// anything not yet past cool-down goes back for the next tick.
	for _, item := range pending {
		if !g.queue.push(item) {
			g.dropped.Add(1)
			g.log.Warn("gc retirement queue full on re-push, dropping still-cooling table",
				zap.Uint64("generation", item.table.Generation),
				zap.Uint64("dropped_total", g.dropped.Load()))
		}
	}
}

func (g *GC) reclaim(t *routing.Table) {
	_, span := tracing.StartSpan(context.Background(), tracing.GetTracer("gc"), tracing.SpanGCReclaim)
	defer span.End()
	for _, m := range t.All {
		g.pool.ReleaseForMeta(m)
	}
	g.reclaimed.Add(1)
}

// Stop signals the loop to exit and joins it.
func (g *GC) Stop() {
	if !g.active.CompareAndSwap(true, false) {
		return
	}
	g.once.Do(func() { close(g.stopCh) })
	<-g.doneCh
}

// StopNowait signals the loop to exit without joining (used on role
// transitions to avoid latency spikes).
func (g *GC) StopNowait() {
	if !g.active.CompareAndSwap(true, false) {
		return
	}
	g.once.Do(func() { close(g.stopCh) })
}

// Reclaimed returns the number of tables reclaimed so far (diagnostics).
func (g *GC) Reclaimed() uint64 { return g.reclaimed.Load() }

// Dropped returns the number of retired tables lost to a full
// retirement ring (diagnostics; each drop is also logged as it happens).
func (g *GC) Dropped() uint64 { return g.dropped.Load() }
