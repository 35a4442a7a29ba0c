package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/routing"
)

func TestGCReclaimsAfterCoolPeriod(t *testing.T) {
	pool := dictpool.New()
	g := New(pool, 20*time.Millisecond, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Start(ctx)
	defer g.Stop()

	tab := &routing.Table{}
	g.EnqueueRetired(tab)

	require.Eventually(t, func() bool {
		return g.Reclaimed() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGCEnqueueRetiredNilIsNoop(t *testing.T) {
	pool := dictpool.New()
	g := New(pool, time.Millisecond, 16, nil)
	g.EnqueueRetired(nil)
	require.Zero(t, g.Reclaimed())
}

func TestGCEnqueueRetiredCountsDropsWhenRingIsFull(t *testing.T) {
	pool := dictpool.New()
	// Never started, so nothing ever drains the ring: once its rounded
	// capacity (16) is full, every further enqueue must be counted and
	// logged as a drop rather than silently lost.
	g := New(pool, time.Hour, 16, zap.NewNop())
	for i := 0; i < 16; i++ {
		g.EnqueueRetired(&routing.Table{Generation: uint64(i)})
	}
	require.Zero(t, g.Dropped())

	g.EnqueueRetired(&routing.Table{Generation: 99})
	require.EqualValues(t, 1, g.Dropped())
}

func TestGCStopIsIdempotent(t *testing.T) {
	pool := dictpool.New()
	g := New(pool, time.Millisecond, 16, nil)
	ctx := context.Background()
	g.Start(ctx)
	g.Stop()
	g.Stop() // second call must not block or panic
}

func TestGCStopNowaitDoesNotBlock(t *testing.T) {
	pool := dictpool.New()
	g := New(pool, time.Hour, 16, nil)
	g.Start(context.Background())
	done := make(chan struct{})
	go func() {
		g.StopNowait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StopNowait blocked")
	}
}
