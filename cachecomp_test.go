package cachecomp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minio/cachecomp/internal/config"
	"github.com/minio/cachecomp/internal/hostenv"
	"github.com/minio/cachecomp/internal/routing"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Default(t.TempDir())
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Bootstrap())
	t.Cleanup(c.Shutdown)
	return c
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.MaxCompSize = config.MaxCompSizeSafetyCap + 1
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestBootstrapWithEmptyDictDirStartsWithNoDictionaryRouting(t *testing.T) {
	c := newTestCore(t)
	require.Nil(t, c.Engine().CurrentTable())
}

func TestEncodeDecodeRoundTripWithNoDictionary(t *testing.T) {
	c := newTestCore(t)
	value := []byte(strings.Repeat("round trip payload text ", 20))

	frame, dictID, err := c.Encode("some:key", value)
	require.NoError(t, err)

	out, err := c.Decode(frame, dictID, 0)
	require.NoError(t, err)
	require.Equal(t, value, out)
}

func TestEncodeWireDecodeWireRoundTrip(t *testing.T) {
	c := newTestCore(t)
	value := []byte(strings.Repeat("wire format payload bytes ", 20))

	stored, err := c.EncodeWire("some:key", value)
	require.NoError(t, err)

	out, err := c.DecodeWire(stored, 0)
	require.NoError(t, err)
	require.Equal(t, value, out)
}

func TestBootstrapPicksUpPreExistingDictionaryAndRoutesByNamespace(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	_, _, err := routing.WriteDictionaryAtomic(dir, "feed",
		[]byte("a reasonably sized trained dictionary blob, repeated, repeated, repeated"),
		0, []string{"feed:"}, now, 3, "sig-feed")
	require.NoError(t, err)

	cfg := config.Default(dir)
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Bootstrap())
	t.Cleanup(c.Shutdown)

	tab := c.Engine().CurrentTable()
	require.NotNil(t, tab)
	require.False(t, tab.IsDefaultNS("feed:user/1"))
	require.True(t, tab.IsDefaultNS("other:key"))
}

func TestStartLeaderThenFollowerTogglesTrainerAndGCWithoutPanicking(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	c.StartLeader(ctx)
	require.Equal(t, hostenv.RoleLeader, c.Env().Role())

	c.StartFollower(ctx)
	require.Equal(t, hostenv.RoleFollower, c.Env().Role())
}

func TestPublishedDictionaryEventuallyRetiredThroughGC(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	_, _, err := routing.WriteDictionaryAtomic(dir, "d1",
		[]byte("a reasonably sized trained dictionary blob, repeated, repeated, repeated"),
		0, []string{"default"}, now, 3, "sig-d1")
	require.NoError(t, err)

	cfg := config.Default(dir)
	cfg.GCCoolPeriodSec = 0
	cfg.DictRetainMax = 1
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Bootstrap())
	t.Cleanup(c.Shutdown)

	firstGen := c.Engine().CurrentTable().Generation

	_, _, err = routing.WriteDictionaryAtomic(dir, "d2",
		[]byte("a second reasonably sized dictionary blob, repeated, repeated, repeated"),
		0, []string{"default"}, now.Add(time.Second), 3, "sig-d2")
	require.NoError(t, err)

	c.gcInst.Start(context.Background())

	_, err = c.Engine().ReloadDictionaries(func() (*routing.Table, error) {
		return routing.Scan(cfg.DictDir, cfg.DictRetainMax, cfg.QuarantinePeriod(), cfg.ResolvedZstdLevel(), c.pool)
	})
	require.NoError(t, err)
	require.Greater(t, c.Engine().CurrentTable().Generation, firstGen)

	require.Eventually(t, func() bool {
		return c.gcInst.Reclaimed() >= 1
	}, time.Second, 5*time.Millisecond)
}
