package routing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/cachecomp/internal/dictpool"
	"github.com/minio/cachecomp/internal/tracing"
)

// ErrNoManifests is returned by Scan when the directory contains no
// manifest files at all (spec §8 "scanning a directory with no
// manifests returns an error and leaves the table unchanged"). Callers
// bootstrapping a brand-new cache with zero trained dictionaries yet
// can match on this to distinguish "nothing to load" from a genuine
// I/O or parse failure.
var ErrNoManifests = errors.New("routing: no manifests found")

// Scan builds a new routing table from the on-disk dictionary
// directory (spec §4.5 build algorithm). pool is the shared dictionary
// pool: active records are retained into it, records that fall out of
// max_per_ns are released.
func Scan(dir string, maxPerNS int, quarantine time.Duration, level int, pool *dictpool.Pool) (*Table, error) {
	_, span := tracing.StartSpan(context.Background(), tracing.GetTracer("routing"), tracing.SpanRoutingScan)
	defer span.End()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("routing: read dict dir %s: %w", dir, err)
	}

	var manifests []*manifestRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ManifestExt) {
			continue
		}
		rec, err := parseManifestFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, rec)
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoManifests, dir)
	}

	now := time.Now().UTC()

	if err := assignIDs(manifests, quarantine, now); err != nil {
		return nil, err
	}

	metas := make([]*Meta, 0, len(manifests))
	for _, rec := range manifests {
		info, statErr := os.Stat(rec.resolveDictPath())
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		metas = append(metas, &Meta{
			ID:           rec.id,
			DictPath:     rec.resolveDictPath(),
			ManifestPath: rec.manifestPath,
			CreatedAt:    rec.created,
			RetiredAt:    rec.retired,
			Level:        level,
			Prefixes:     append([]string(nil), rec.namespaces...),
			Signature:    rec.signature,
			Size:         size,
		})
	}

	// Group active metas by namespace, newest-first.
	groups := make(map[string][]*Meta)
	for _, m := range metas {
		if !m.Active() {
			continue
		}
		for _, ns := range m.Prefixes {
			groups[ns] = append(groups[ns], m)
		}
	}
	for ns := range groups {
		sortNamespace(groups[ns])
	}

	// Enforce max_per_ns: trim each group, tracking whether a record
	// survives in at least one namespace.
	survivesAnywhere := make(map[*Meta]bool)
	for ns, dicts := range groups {
		if maxPerNS > 0 && len(dicts) > maxPerNS {
			groups[ns] = dicts[:maxPerNS]
		}
		for _, m := range groups[ns] {
			survivesAnywhere[m] = true
		}
	}

	// Any previously-active record that didn't survive anywhere is
	// retired now, and released from the pool.
	for _, m := range metas {
		if !m.Active() {
			continue
		}
		if survivesAnywhere[m] {
			continue
		}
		m.RetiredAt = now
		if pool.RefcountForMeta(m) >= 0 {
			pool.ReleaseForMeta(m)
		}
		if err := rewriteManifestRetired(m, now); err != nil {
			return nil, err
		}
	}

	// Load + compile dictionaries for surviving active records, then
	// retain them into the pool.
	finalActive := make([]*Meta, 0, len(metas))
	seen := make(map[*Meta]bool)
	for _, dicts := range groups {
		for _, m := range dicts {
			if seen[m] {
				continue
			}
			seen[m] = true
			blob, err := os.ReadFile(m.DictPath)
			if err != nil {
				return nil, fmt.Errorf("routing: read dict blob %s: %w", m.DictPath, err)
			}
			m.setDictBytes(blob)
			if err := pool.RetainForMeta(m); err != nil {
				return nil, fmt.Errorf("routing: retain %s: %w", m.IdentityKey(), err)
			}
			finalActive = append(finalActive, m)
		}
	}

	nsEntries := make([]*NamespaceEntry, 0, len(groups))
	for ns, dicts := range groups {
		if len(dicts) == 0 {
			continue
		}
		cp := append([]*Meta(nil), dicts...)
		nsEntries = append(nsEntries, &NamespaceEntry{Prefix: ns, Dicts: cp})
	}

	t := &Table{
		Namespaces: nsEntries,
		All:        finalActive,
		BuildTime:  now,
	}
	t.byID = buildIndex(finalActive)
	return t, nil
}

// assignIDs implements spec §4.5 step 2: compute the disallowed id set
// (active ids, plus retired ids still within the quarantine window),
// then hand every id-less record the lowest free id, rewriting its
// manifest so the filesystem stays the source of truth.
func assignIDs(manifests []*manifestRecord, quarantine time.Duration, now time.Time) error {
	disallowed := make(map[uint16]bool)
	for _, rec := range manifests {
		if !rec.hasID {
			continue
		}
		if rec.retired.IsZero() {
			disallowed[rec.id] = true
			continue
		}
		if now.Sub(rec.retired) < quarantine {
			disallowed[rec.id] = true
		}
	}

	nextFree := func() (uint16, bool) {
		for id := 1; id <= 65535; id++ {
			if !disallowed[uint16(id)] {
				return uint16(id), true
			}
		}
		return 0, false
	}

	for _, rec := range manifests {
		if rec.hasID {
			continue
		}
		id, ok := nextFree()
		if !ok {
			return fmt.Errorf("routing: no free dictionary id in 1..65535")
		}
		rec.id = id
		rec.hasID = true
		disallowed[id] = true
		if err := writeManifestAtomic(rec.manifestPath, rec); err != nil {
			return err
		}
	}
	return nil
}

func rewriteManifestRetired(m *Meta, retiredAt time.Time) error {
	rec := &manifestRecord{
		id:           m.ID,
		hasID:        true,
		dictFile:     filepath.Base(m.DictPath),
		namespaces:   m.Prefixes,
		created:      m.CreatedAt,
		level:        m.Level,
		signature:    m.Signature,
		retired:      retiredAt,
		manifestPath: m.ManifestPath,
	}
	return writeManifestAtomic(m.ManifestPath, rec)
}
