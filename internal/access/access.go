// Package access implements ShadowFS's Access Tracker (component C5):
// per-path access timestamps and frequency counters driving victim
// selection in the Eviction Engine.
package access

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a per-path access snapshot.
type Stats struct {
	Path        string
	LastAccess  time.Time
	AccessCount int64
	Created     time.Time
}

// AgeSeconds returns the time since LastAccess, in seconds.
func (s Stats) AgeSeconds() float64 {
	return time.Since(s.LastAccess).Seconds()
}

type entry struct {
	path        string
	lastAccess  time.Time
	created     time.Time
	accessCount atomic.Int64
	element     *list.Element // position in the insertion-ordered list
}

// Tracker holds an insertion-ordered map from path to last-access instant
// plus a frequency counter. record_access moves its path to the
// most-recent end of the order: iterating front-to-back thus yields the
// canonical LRU ordering (oldest-untouched first).
type Tracker struct {
	mu         sync.Mutex // guards order and entries together
	order      *list.List
	entries    map[string]*entry
	generation atomic.Uint64
}

// New creates an empty Access Tracker.
func New() *Tracker {
	return &Tracker{
		order:   list.New(),
		entries: make(map[string]*entry),
	}
}

// RecordAccess records an access to path, creating its entry if absent,
// moving it to the most-recent end of the order, and bumping its
// frequency counter and the tracker's generation.
func (t *Tracker) RecordAccess(path string) {
	now := time.Now()

	t.mu.Lock()
	e, ok := t.entries[path]
	if !ok {
		e = &entry{path: path, created: now}
		e.element = t.order.PushBack(path)
		t.entries[path] = e
	} else {
		t.order.MoveToBack(e.element)
	}
	e.lastAccess = now
	t.mu.Unlock()

	e.accessCount.Add(1)
	t.generation.Add(1)
}

// Remove deletes path's tracked state, if any.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return
	}
	t.order.Remove(e.element)
	delete(t.entries, path)
}

// Knows reports whether path currently has tracked access state.
func (t *Tracker) Knows(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[path]
	return ok
}

// StatsFor returns path's access statistics, if tracked.
func (t *Tracker) StatsFor(path string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Path:        path,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount.Load(),
		Created:     e.created,
	}, true
}

// AllStats returns a snapshot of every tracked path's statistics.
func (t *Tracker) AllStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.entries))
	for path, e := range t.entries {
		out = append(out, Stats{
			Path:        path,
			LastAccess:  e.lastAccess,
			AccessCount: e.accessCount.Load(),
			Created:     e.created,
		})
	}
	return out
}

// OldestFirst returns tracked paths in LRU order: the path at index 0 was
// accessed longest ago.
func (t *Tracker) OldestFirst() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

// Generation returns a monotonically increasing counter bumped on every
// RecordAccess call, useful for cheap staleness checks by callers that
// cache derived orderings.
func (t *Tracker) Generation() uint64 {
	return t.generation.Load()
}

// Len reports the number of tracked paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
