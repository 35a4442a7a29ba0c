package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minio/cachecomp/internal/config"
	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/efficiency"
	"github.com/minio/cachecomp/internal/routing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default(t.TempDir())
	return New(cfg, nil, dictpool.New(), efficiency.New())
}

func TestEncodeDecodeRoundTripNoDictionary(t *testing.T) {
	e := newTestEngine(t)
	value := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 20))

	frame, dictID, err := e.Encode("some:key", value)
	require.NoError(t, err)
	require.Equal(t, NoDictID, dictID)

	out, err := e.Decode(frame, dictID, 0)
	require.NoError(t, err)
	require.Equal(t, value, out)
}

func TestEncodeSkipsBelowMinCompSize(t *testing.T) {
	e := newTestEngine(t)
	frame, dictID, err := e.Encode("k", []byte("tiny"))
	require.NoError(t, err)
	require.Equal(t, RawDictID, dictID)
	require.Nil(t, frame)
	require.EqualValues(t, 1, e.Stats().Global().Snapshot().SkipMinSize)
}

func TestEncodeSkipsWhenDisabled(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.EnableComp = false
	e := New(cfg, nil, dictpool.New(), efficiency.New())

	_, dictID, err := e.Encode("k", []byte(strings.Repeat("x", 200)))
	require.NoError(t, err)
	require.Equal(t, RawDictID, dictID)
	require.EqualValues(t, 1, e.Stats().Global().Snapshot().SkipDisabled)
}

func TestEncodeWireDecodeWireRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	value := []byte(strings.Repeat("payload bytes for the wire format test ", 20))

	stored, err := e.EncodeWire("k", value)
	require.NoError(t, err)

	out, err := e.DecodeWire(stored, 0)
	require.NoError(t, err)
	require.Equal(t, value, out)
}

func TestDecodeWireRejectsTooShortInput(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.DecodeWire([]byte{0x01}, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecodeUnknownDictIDErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Decode([]byte{1, 2, 3}, 7, 0)
	require.ErrorIs(t, err, ErrUnknownDict)
}

func TestPublishTableEnqueuesOldTableForGC(t *testing.T) {
	e := newTestEngine(t)
	var retired *routing.Table
	e.AttachGC(noopGC{}, func(old *routing.Table) { retired = old })

	first := &routing.Table{Generation: 1}
	e.PublishTable(first)
	require.Nil(t, retired)
	require.Same(t, first, e.CurrentTable())

	second := &routing.Table{Generation: 2}
	e.PublishTable(second)
	require.Same(t, first, retired)
	require.Same(t, second, e.CurrentTable())
}

type noopGC struct{}

func (noopGC) Start(ctx context.Context) {}
func (noopGC) StopNowait()                {}
