package hostenv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartWatchingTriggersReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	e := New(nil, dir, nil)

	reload := &fakeReloader{status: ReloadStatus{Loaded: 1}}
	e.AttachEngine(&fakeEngine{}, reload)

	require.NoError(t, e.StartWatching(dir))
	defer e.StopWatching()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.dict"), []byte("dict bytes"), 0o644))

	require.Eventually(t, func() bool {
		return reload.calls > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopWatchingIsIdempotentAndSafeWithoutStart(t *testing.T) {
	e := New(nil, t.TempDir(), nil)
	e.StopWatching() // never started; must not panic
	e.StopWatching() // repeated call is also a no-op
}
