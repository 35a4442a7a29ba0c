// Package workerpool implements the bounded, back-pressured FIFO job
// pool (spec §4.10). It is independent infrastructure used by external
// collaborators to offload batch decode/encode and file I/O from a
// request thread; the core engine itself never enqueues onto it.
package workerpool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrShutdown is returned by Submit once Shutdown has been called.
var ErrShutdown = errors.New("workerpool: shut down")

// Job is one unit of work submitted to the pool.
type Job func()

// Pool is a fixed-size worker pool consuming a FIFO of jobs. The queue
// depth is bounded by a semaphore: Submit blocks the caller once the
// queue is full, which is the back-pressure signal propagated to the
// server's request thread (spec §4.10, §5 "the worker pool blocks
// submitters on queue-full").
type Pool struct {
	jobs chan Job
	sem  *semaphore.Weighted

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New starts n workers backed by a queue that holds at most maxDepth
// pending jobs.
func New(n, maxDepth int) *Pool {
	if n < 1 {
		n = 1
	}
	if maxDepth < 1 {
		maxDepth = 1
	}
	p := &Pool{
		jobs:     make(chan Job, maxDepth),
		sem:      semaphore.NewWeighted(int64(maxDepth)),
		shutdown: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.sem.Release(1)
			job()
		}
	}
}

// Submit enqueues a job, blocking while the queue is full. It returns
// ErrShutdown if the pool has been (or is being) shut down before the
// job could be accepted.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case <-p.shutdown:
		return ErrShutdown
	default:
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	select {
	case <-p.shutdown:
		p.sem.Release(1)
		return ErrShutdown
	case p.jobs <- job:
		return nil
	}
}

// TrySubmit enqueues a job only if the queue has room right now.
func (p *Pool) TrySubmit(job Job) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	select {
	case <-p.shutdown:
		p.sem.Release(1)
		return false
	case p.jobs <- job:
		return true
	default:
		p.sem.Release(1)
		return false
	}
}

// Shutdown stops accepting work, wakes all workers, and joins them.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
}
