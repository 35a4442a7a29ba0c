package routing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minio/cachecomp/internal/dictpool"
)

func writeDict(t *testing.T, dir, base string, id uint16, namespaces []string, created time.Time) {
	t.Helper()
	_, _, err := WriteDictionaryAtomic(dir, base, []byte("a reasonably sized trained dictionary blob, repeated, repeated, repeated"), id, namespaces, created, 3, "sig-"+base)
	require.NoError(t, err)
}

func TestScanNoManifestsReturnsErrNoManifests(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	_, err := Scan(dir, 3, time.Minute, 3, pool)
	require.ErrorIs(t, err, ErrNoManifests)
}

func TestScanBuildsTableWithDefaultNamespace(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	writeDict(t, dir, "d1", 0, nil, time.Now().UTC())

	tab, err := Scan(dir, 3, time.Minute, 3, pool)
	require.NoError(t, err)
	require.True(t, tab.HasDefaultDict())
	require.Len(t, tab.All, 1)
	require.NotNil(t, tab.LookupByID(tab.All[0].ID))
}

func TestScanAssignsIDsAndAvoidsQuarantinedIDs(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	now := time.Now().UTC()

	// a retired dict holding id 1, still within quarantine
	_, manifestPath, err := WriteDictionaryAtomic(dir, "old", []byte("old dict bytes, padded, padded, padded, padded"), 1, []string{"default"}, now.Add(-time.Minute), 3, "sig-old")
	require.NoError(t, err)
	// mark retired "now" by rewriting the manifest directly via scan's
	// own helper semantics: write a manifest with a retired timestamp.
	require.NoError(t, os.WriteFile(manifestPath,
		[]byte("id = 1\ndict_file = old.dict\nnamespaces = default\ncreated = "+now.Add(-time.Minute).Format(time.RFC3339)+"\nlevel = 3\nsignature = sig-old\nretired = "+now.Format(time.RFC3339)+"\n"),
		0o644))

	// a fresh dict with no id yet
	writeDict(t, dir, "new", 0, []string{"default"}, now)

	tab, err := Scan(dir, 3, time.Hour, 3, pool) // 1-hour quarantine keeps id 1 reserved
	require.NoError(t, err)
	require.Len(t, tab.All, 1)
	require.NotEqual(t, uint16(1), tab.All[0].ID)
}

func TestScanEnforcesMaxPerNamespace(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		writeDict(t, dir, "d"+string(rune('a'+i)), 0, []string{"default"}, base.Add(time.Duration(i)*time.Second))
	}

	tab, err := Scan(dir, 2, time.Minute, 3, pool)
	require.NoError(t, err)
	require.Len(t, tab.All, 2)
	// newest-first: the two survivors should be the two most recent builds.
	require.True(t, tab.All[0].CreatedAt.After(tab.All[1].CreatedAt) || tab.All[0].CreatedAt.Equal(tab.All[1].CreatedAt))
}

func TestTablePickByKeyLongestPrefixMatch(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	now := time.Now().UTC()
	writeDict(t, dir, "gen", 0, []string{"default"}, now)
	writeDict(t, dir, "feed", 0, []string{"feed:"}, now.Add(time.Second))

	tab, err := Scan(dir, 3, time.Minute, 3, pool)
	require.NoError(t, err)

	m := tab.PickByKey("feed:user/1")
	require.NotNil(t, m)
	require.Contains(t, m.Prefixes, "feed:")

	m2 := tab.PickByKey("other:key")
	require.NotNil(t, m2)
	require.Contains(t, m2.Prefixes, "default")
}

func TestTableResolveNamespaceAndIsDefaultNS(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	now := time.Now().UTC()
	writeDict(t, dir, "feed", 0, []string{"feed:"}, now)

	tab, err := Scan(dir, 3, time.Minute, 3, pool)
	require.NoError(t, err)

	require.Equal(t, "feed:", tab.ResolveNamespace("feed:user/1"))
	require.Equal(t, "default", tab.ResolveNamespace("other:key"))
	require.False(t, tab.IsDefaultNS("feed:user/1"))
	require.True(t, tab.IsDefaultNS("other:key"))
}

func TestClonePlusAddsAndTrims(t *testing.T) {
	dir := t.TempDir()
	pool := dictpool.New()
	now := time.Now().UTC()
	writeDict(t, dir, "d1", 0, []string{"default"}, now)

	tab, err := Scan(dir, 2, time.Minute, 3, pool)
	require.NoError(t, err)

	newMeta := &Meta{ID: 99, Prefixes: []string{"default"}, CreatedAt: now.Add(time.Minute), Level: 3, Signature: "sig-new"}
	newMeta.setDictBytes([]byte("brand new dictionary bytes, padded out a little"))
	require.NoError(t, pool.RetainForMeta(newMeta))

	next := ClonePlus(tab, newMeta, 1, pool)
	require.Equal(t, tab.Generation+1, next.Generation)
	require.LessOrEqual(t, len(next.All), 1)
	require.Equal(t, newMeta, next.Namespaces[0].Head())
}

func TestManifestRoundTripSerialize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.mf")
	rec := &manifestRecord{
		id: 5, hasID: true, dictFile: "x.dict", namespaces: []string{"a", "b"},
		created: time.Now().UTC().Truncate(time.Second), level: 5, signature: "abc", manifestPath: path,
	}
	require.NoError(t, writeManifestAtomic(path, rec))

	parsed, err := parseManifestFile(path)
	require.NoError(t, err)
	require.Equal(t, rec.id, parsed.id)
	require.Equal(t, rec.dictFile, parsed.dictFile)
	require.Equal(t, rec.namespaces, parsed.namespaces)
	require.True(t, rec.created.Equal(parsed.created))
	require.Equal(t, rec.level, parsed.level)
	require.Equal(t, rec.signature, parsed.signature)
}
