package routing

import (
	"time"

	"github.com/minio/cachecomp/internal/dictpool"
)

// ClonePlus produces a new table that is a deep copy of old plus
// newMeta inserted (spec §4.5 "clone-with-addition"). Compiled handles
// are shared (newMeta must already be retained into pool by the
// caller); namespaces are re-sorted newest-first and re-trimmed.
// Generation = old.Generation + 1.
func ClonePlus(old *Table, newMeta *Meta, maxPerNS int, pool *dictpool.Pool) *Table {
	now := time.Now().UTC()

	groups := make(map[string][]*Meta)
	for _, ns := range old.Namespaces {
		groups[ns.Prefix] = append([]*Meta(nil), ns.Dicts...)
	}
	for _, prefix := range newMeta.Prefixes {
		groups[prefix] = append(groups[prefix], newMeta)
	}

	for ns, dicts := range groups {
		sortNamespace(dicts)
		if maxPerNS > 0 && len(dicts) > maxPerNS {
			for _, excess := range dicts[maxPerNS:] {
				excess.RetiredAt = now
				pool.ReleaseForMeta(excess)
				_ = rewriteManifestRetired(excess, now)
			}
			dicts = dicts[:maxPerNS]
		}
		groups[ns] = dicts
	}

	seen := make(map[*Meta]bool)
	all := make([]*Meta, 0, len(old.All)+1)
	nsEntries := make([]*NamespaceEntry, 0, len(groups))
	for ns, dicts := range groups {
		if len(dicts) == 0 {
			continue
		}
		nsEntries = append(nsEntries, &NamespaceEntry{Prefix: ns, Dicts: dicts})
		for _, m := range dicts {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}

	t := &Table{
		Namespaces: nsEntries,
		All:        all,
		BuildTime:  now,
		Generation: old.Generation + 1,
	}
	t.byID = buildIndex(all)
	return t
}
