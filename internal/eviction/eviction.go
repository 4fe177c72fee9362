// Package eviction implements ShadowFS's Eviction Engine (component C6):
// four selectable victim-selection policies over a byte-release target.
package eviction

import (
	"sort"
	"time"
)

// Policy selects which ordering the Eviction Engine uses to pick victims.
type Policy int

const (
	// LRU iterates the Access Tracker's order front-to-back (oldest
	// untouched first).
	LRU Policy = iota
	// LFU sorts by ascending access count, ties broken by oldest access.
	LFU
	// FIFO sorts by entry creation timestamp, ascending.
	FIFO
	// SizeWeighted sorts by entry size, descending.
	SizeWeighted
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	case SizeWeighted:
		return "size_weighted"
	default:
		return "unknown"
	}
}

// ParsePolicy maps the configuration strings from spec §6
// (LRU/LFU/FIFO/size-weighted) onto a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "LRU", "lru":
		return LRU, true
	case "LFU", "lfu":
		return LFU, true
	case "FIFO", "fifo":
		return FIFO, true
	case "size-weighted", "size_weighted", "SizeWeighted":
		return SizeWeighted, true
	default:
		return 0, false
	}
}

// Candidate describes one evictable entry.
type Candidate struct {
	Path      string
	Size      uint64
	CreatedAt time.Time
}

// AccessInfo is the subset of Access Tracker state the Eviction Engine
// needs for LFU ordering.
type AccessInfo struct {
	LastAccess time.Time
	Count      int64
}

// SelectVictims orders candidates per policy, walks the ordering summing
// sizes until targetBytes is reached, and returns that prefix of paths.
// Paths in excluded are skipped without terminating the walk (they may
// not be evicted, e.g. the entry currently being written by the caller's
// own in-flight insert). lruOrder is the Access Tracker's current
// front-to-back (oldest-first) ordering, used only by the LRU policy.
//
// Returns an empty slice if no non-excluded candidate exists; callers
// interpret this as "the store is full of pinned content".
func SelectVictims(
	policy Policy,
	candidates []Candidate,
	lruOrder []string,
	access map[string]AccessInfo,
	targetBytes uint64,
	excluded map[string]struct{},
) []string {
	bySize := make(map[string]uint64, len(candidates))
	present := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		bySize[c.Path] = c.Size
		present[c.Path] = struct{}{}
	}

	var ordered []string
	switch policy {
	case LRU:
		for _, p := range lruOrder {
			if _, ok := present[p]; ok {
				ordered = append(ordered, p)
			}
		}
	case LFU:
		ordered = orderByLFU(candidates, access)
	case FIFO:
		ordered = orderByFIFO(candidates)
	case SizeWeighted:
		ordered = orderBySize(candidates)
	default:
		ordered = orderByFIFO(candidates)
	}

	var victims []string
	var freed uint64
	for _, p := range ordered {
		if freed >= targetBytes {
			break
		}
		if _, skip := excluded[p]; skip {
			continue
		}
		victims = append(victims, p)
		freed += bySize[p]
	}
	return victims
}

func orderByLFU(candidates []Candidate, access map[string]AccessInfo) []string {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := access[sorted[i].Path], access[sorted[j].Path]
		if ci.Count != cj.Count {
			return ci.Count < cj.Count
		}
		return ci.LastAccess.Before(cj.LastAccess)
	})
	return pathsOf(sorted)
}

func orderByFIFO(candidates []Candidate) []string {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return pathsOf(sorted)
}

func orderBySize(candidates []Candidate) []string {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size > sorted[j].Size
	})
	return pathsOf(sorted)
}

func pathsOf(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Path
	}
	return out
}
