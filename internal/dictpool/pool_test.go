package dictpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMeta struct {
	key        string
	prefixes   int
	dictBytes  []byte
	level      int
	codecPool  *CodecPool
}

func (m *fakeMeta) IdentityKey() string      { return m.key }
func (m *fakeMeta) PrefixCount() int         { return m.prefixes }
func (m *fakeMeta) DictBytes() []byte        { return m.dictBytes }
func (m *fakeMeta) Level() int               { return m.level }
func (m *fakeMeta) BindCodecPool(cp *CodecPool) { m.codecPool = cp }
func (m *fakeMeta) CodecPool() *CodecPool    { return m.codecPool }

func sampleDict() []byte {
	return []byte("some training dictionary content, padded out a bit more, and more")
}

func TestRetainForMetaFirstInstallationSetsRefcount(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 3, dictBytes: sampleDict(), level: 3}

	require.NoError(t, p.RetainForMeta(m))
	require.Equal(t, 3, p.RefcountForMeta(m))
	require.NotNil(t, m.CodecPool())
}

func TestRetainForMetaSharesEntryAcrossSameIdentityKey(t *testing.T) {
	p := New()
	m1 := &fakeMeta{key: "dict-a", prefixes: 2, dictBytes: sampleDict(), level: 3}
	m2 := &fakeMeta{key: "dict-a", prefixes: 99, dictBytes: sampleDict(), level: 3}

	require.NoError(t, p.RetainForMeta(m1))
	require.NoError(t, p.RetainForMeta(m2))

	// second caller for the same key doesn't bump refcount again
	require.Equal(t, 2, p.RefcountForMeta(m1))
	require.Same(t, m1.CodecPool(), m2.CodecPool())
}

func TestRetainForMetaMinimumRefcountOne(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 0, dictBytes: sampleDict(), level: 3}
	require.NoError(t, p.RetainForMeta(m))
	require.Equal(t, 1, p.RefcountForMeta(m))
}

func TestRetainForMetaRequiresDictBytesOnFirstInstall(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 1}
	require.Error(t, p.RetainForMeta(m))
}

func TestReleaseForMetaFreesAtZero(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 2, dictBytes: sampleDict(), level: 3}
	require.NoError(t, p.RetainForMeta(m))

	require.Equal(t, 1, p.ReleaseForMeta(m))
	require.Equal(t, 0, p.ReleaseForMeta(m))
	require.Equal(t, -1, p.RefcountForMeta(m))
}

func TestReleaseForMetaNeverInstalledReturnsNegativeOne(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "never-installed"}
	require.Equal(t, -1, p.ReleaseForMeta(m))
}

func TestBorrowReturnEncoderDecoderRoundTrip(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 1, dictBytes: sampleDict(), level: 3}
	require.NoError(t, p.RetainForMeta(m))

	cp := m.CodecPool()
	enc := cp.BorrowEncoder()
	require.NotNil(t, enc)
	payload := []byte("hello hello hello hello hello hello")
	compressed := enc.EncodeAll(payload, nil)
	cp.ReturnEncoder(enc)

	dec := cp.BorrowDecoder()
	require.NotNil(t, dec)
	out, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	require.Equal(t, payload, out)
	cp.ReturnDecoder(dec)
}

func TestShutdownClearsAllEntries(t *testing.T) {
	p := New()
	m := &fakeMeta{key: "dict-a", prefixes: 1, dictBytes: sampleDict(), level: 3}
	require.NoError(t, p.RetainForMeta(m))
	p.Shutdown()
	require.Equal(t, -1, p.RefcountForMeta(m))
}
