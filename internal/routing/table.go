package routing

import (
	"sort"
	"strings"
	"time"
)

// NamespaceEntry is a prefix plus its ordered, newest-first dictionaries.
type NamespaceEntry struct {
	Prefix string
	Dicts  []*Meta // newest first; head is the active dictionary
}

// Head returns the active dictionary for this namespace, or nil.
func (n *NamespaceEntry) Head() *Meta {
	if len(n.Dicts) == 0 {
		return nil
	}
	return n.Dicts[0]
}

// Table is an immutable, versioned snapshot (spec §3 "Routing table").
// Once published, a Table must be treated as read-only; all mutation
// happens by building a new Table (Scan or ClonePlus).
type Table struct {
	Namespaces []*NamespaceEntry
	All        []*Meta // flat owning array for this snapshot
	byID       [65536]*Meta
	BuildTime  time.Time
	Generation uint64
}

// PickByKey does a longest-prefix match against namespace prefixes,
// falling back to "default".
func (t *Table) PickByKey(key string) *Meta {
	var best *NamespaceEntry
	bestLen := -1
	for _, ns := range t.Namespaces {
		if ns.Prefix == defaultNamespace {
			continue
		}
		if strings.HasPrefix(key, ns.Prefix) && len(ns.Prefix) > bestLen {
			best = ns
			bestLen = len(ns.Prefix)
		}
	}
	if best != nil {
		return best.Head()
	}
	for _, ns := range t.Namespaces {
		if ns.Prefix == defaultNamespace {
			return ns.Head()
		}
	}
	return nil
}

// ResolveNamespace returns the namespace prefix key resolves to for
// statistics purposes: the longest matching non-default prefix, or
// "default" if none match.
func (t *Table) ResolveNamespace(key string) string {
	best := ""
	bestLen := -1
	for _, ns := range t.Namespaces {
		if ns.Prefix == defaultNamespace {
			continue
		}
		if strings.HasPrefix(key, ns.Prefix) && len(ns.Prefix) > bestLen {
			best = ns.Prefix
			bestLen = len(ns.Prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return defaultNamespace
}

// IsDefaultNS reports whether key resolves only via the default
// namespace (no specific prefix matched).
func (t *Table) IsDefaultNS(key string) bool {
	for _, ns := range t.Namespaces {
		if ns.Prefix == defaultNamespace {
			continue
		}
		if strings.HasPrefix(key, ns.Prefix) {
			return false
		}
	}
	return true
}

// LookupByID does a direct id→metadata slot lookup.
func (t *Table) LookupByID(id uint16) *Meta {
	if id == 0 {
		return nil
	}
	return t.byID[id]
}

// HasDefaultDict reports whether the default namespace has an active
// dictionary.
func (t *Table) HasDefaultDict() bool {
	for _, ns := range t.Namespaces {
		if ns.Prefix == defaultNamespace {
			return ns.Head() != nil
		}
	}
	return false
}

// sortNamespace orders records newest-first, ties broken by higher id
// first (spec §3 invariant 2).
func sortNamespace(dicts []*Meta) {
	sort.SliceStable(dicts, func(i, j int) bool {
		if !dicts[i].CreatedAt.Equal(dicts[j].CreatedAt) {
			return dicts[i].CreatedAt.After(dicts[j].CreatedAt)
		}
		return dicts[i].ID > dicts[j].ID
	})
}

// buildIndex fills the flat id→meta index, newest-wins on collision
// (spec §3 invariant: "a 65536-slot array mapping id → metadata
// pointer (newest‑wins on id collision)").
func buildIndex(all []*Meta) [65536]*Meta {
	var idx [65536]*Meta
	for _, m := range all {
		cur := idx[m.ID]
		if cur == nil || m.CreatedAt.After(cur.CreatedAt) {
			idx[m.ID] = m
		}
	}
	return idx
}
