package stats

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCountersSnapshotReflectsAdds(t *testing.T) {
	var c Counters
	c.BytesRaw.Add(100)
	c.BytesCompressed.Add(40)
	c.WriteOps.Add(1)
	c.SkipMinSize.Add(2)

	want := Snapshot{BytesRaw: 100, BytesCompressed: 40, WriteOps: 1, SkipMinSize: 2}
	if diff := cmp.Diff(want, c.Snapshot()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryForNamespaceCreatesLazilyAndReuses(t *testing.T) {
	r := New()
	c1 := r.ForNamespace("feed:")
	c2 := r.ForNamespace("feed:")
	require.Same(t, c1, c2)

	c1.WriteOps.Add(5)
	snaps := r.Namespaces()
	require.EqualValues(t, 5, snaps["feed:"].WriteOps)
}

func TestRegistryGlobalIsIndependentOfNamespaces(t *testing.T) {
	r := New()
	r.Global().ReadOps.Add(3)
	r.ForNamespace("default").ReadOps.Add(7)

	require.EqualValues(t, 3, r.Global().Snapshot().ReadOps)
	require.EqualValues(t, 7, r.ForNamespace("default").Snapshot().ReadOps)
}

func TestRegistryForNamespaceConcurrentCreationIsSafe(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ForNamespace("shared").WriteOps.Add(1)
		}()
	}
	wg.Wait()

	snaps := r.Namespaces()
	require.EqualValues(t, 50, snaps["shared"].WriteOps)
}
