// Package replication fans a freshly-trained dictionary out to a set of
// follower nodes so they can adopt it without waiting on their own
// directory watch to notice the new manifest (spec §4.9's
// dict_publisher callback).
//
// Adapted from the teacher's replication engine trio
// (replication_engine_v1/v2/v3.go): same worker-pool-draining-a-queue
// shape and exponential backoff retry, generalized from cross-region
// S3 object replication (conflict resolution, version vectors,
// bidirectional bucket sync) down to the one operation this domain
// needs — push one dictionary blob to N followers at least once. The
// go.mod comment on the teacher's own require block ("V3
// implementations use standard library only for maximum portability")
// is why this follower transport is built on net/http rather than a
// pulled-in RPC client.
package replication

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy mirrors the teacher's RetryPolicy shape.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy matches the teacher's v1 defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func calculateBackoff(attempt int, policy RetryPolicy) time.Duration {
	backoff := time.Duration(float64(policy.InitialBackoff) * math.Pow(policy.BackoffMultiplier, float64(attempt)))
	if backoff > policy.MaxBackoff {
		backoff = policy.MaxBackoff
	}
	return backoff
}

// task is one queued dictionary publication.
type task struct {
	dictID        uint16
	fileName      string
	dictBytes     []byte
	manifestBytes []byte
}

// Follower is a remote node willing to receive dictionary pushes.
type Follower struct {
	Name     string
	Endpoint string // POST target; body is the raw dictionary then manifest, framed by Publisher
}

// Publisher drains a bounded queue of publish tasks across a small
// worker pool, retrying each follower independently with exponential
// backoff, the same division of labor as the teacher's
// replicationWorker/processReplicationTask pair.
type Publisher struct {
	log        *zap.Logger
	httpClient *http.Client
	policy     RetryPolicy

	mu        sync.RWMutex
	followers map[string]Follower

	queue   chan task
	workers int

	published atomic.Uint64
	failed    atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher constructs a publisher with workers goroutines draining
// a queue of depth queueDepth.
func NewPublisher(log *zap.Logger, workers, queueDepth int) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Publisher{
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     DefaultRetryPolicy(),
		followers:  make(map[string]Follower),
		queue:      make(chan task, queueDepth),
		workers:    workers,
	}
}

// RegisterFollower adds or updates a follower target.
func (p *Publisher) RegisterFollower(f Follower) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.followers[f.Name] = f
}

// RemoveFollower drops a follower target.
func (p *Publisher) RemoveFollower(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.followers, name)
}

// Start launches the worker pool.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop cancels the worker pool and joins it.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Publisher) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.process(ctx, t)
		}
	}
}

func (p *Publisher) process(ctx context.Context, t task) {
	p.mu.RLock()
	followers := make([]Follower, 0, len(p.followers))
	for _, f := range p.followers {
		followers = append(followers, f)
	}
	p.mu.RUnlock()

	for _, f := range followers {
		if err := p.pushWithRetry(ctx, f, t); err != nil {
			p.failed.Add(1)
			p.log.Warn("dictionary push to follower failed after retries",
				zap.String("follower", f.Name), zap.Uint16("dict_id", t.dictID), zap.Error(err))
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) pushWithRetry(ctx context.Context, f Follower, t task) error {
	var lastErr error
	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt, p.policy)):
			}
		}
		if err := p.pushOnce(ctx, f, t); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("replication: follower %s: %w", f.Name, lastErr)
}

func (p *Publisher) pushOnce(ctx context.Context, f Follower, t task) error {
	body := framePushBody(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Dict-ID", fmt.Sprintf("%d", t.dictID))
	req.Header.Set("X-Dict-File", t.fileName)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("follower returned status %d", resp.StatusCode)
	}
	return nil
}

// framePushBody concatenates [4-byte BE dict-blob length][dict bytes][manifest bytes].
func framePushBody(t task) []byte {
	out := make([]byte, 4+len(t.dictBytes)+len(t.manifestBytes))
	out[0] = byte(len(t.dictBytes) >> 24)
	out[1] = byte(len(t.dictBytes) >> 16)
	out[2] = byte(len(t.dictBytes) >> 8)
	out[3] = byte(len(t.dictBytes))
	copy(out[4:], t.dictBytes)
	copy(out[4+len(t.dictBytes):], t.manifestBytes)
	return out
}

// Publish implements hostenv.DictPublisherFunc: it enqueues the push
// and returns immediately (non-blocking), matching spec §4.9's "the
// publication callback... errors are counted, not fatal" framing — the
// caller only learns about a full queue, not a follower push failure.
func (p *Publisher) Publish(dictID uint16, fileName string, dictBytes, manifestBytes []byte) error {
	t := task{dictID: dictID, fileName: fileName, dictBytes: dictBytes, manifestBytes: manifestBytes}
	select {
	case p.queue <- t:
		return nil
	default:
		return fmt.Errorf("replication: publish queue full, dropping dict %d", dictID)
	}
}

// Stats reports cumulative publish outcomes for diagnostics.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
