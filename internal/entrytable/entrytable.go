// Package entrytable implements ShadowFS's Override Entry Table
// (component C4): a concurrent map from path to override entry, backed by
// the Memory Tracker for accounting and the Access Tracker for victim
// bookkeeping.
package entrytable

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/shadowfs/shadowfs/internal/access"
	"github.com/shadowfs/shadowfs/internal/arena"
	"github.com/shadowfs/shadowfs/internal/eviction"
	"github.com/shadowfs/shadowfs/internal/memtracker"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/pkg/errors"
	"github.com/shadowfs/shadowfs/pkg/utils"
)

// ContentKind tags which of the three OverrideContent variants an Entry
// holds (spec §3).
type ContentKind int

const (
	KindFile ContentKind = iota
	KindDirectory
	KindTombstone
)

// Content is the tagged union described in spec §3.
type Content struct {
	Kind ContentKind

	// File variant.
	Handle *arena.Handle
	Hash   arena.Hash
	Size   uint64

	// Directory variant: an ordered set of child-name strings.
	Children []string
}

// FileContent builds a File-variant Content from an arena handle.
func FileContent(h *arena.Handle) Content {
	return Content{Kind: KindFile, Handle: h, Hash: h.Hash(), Size: uint64(h.Len())}
}

// DirectoryContent builds a Directory-variant Content.
func DirectoryContent(children []string) Content {
	return Content{Kind: KindDirectory, Children: children}
}

// TombstoneContent builds a Tombstone-variant Content.
func TombstoneContent() Content {
	return Content{Kind: KindTombstone}
}

// Entry is an OverrideEntry: a path plus its override content, optional
// source-metadata snapshot, override metadata, and lifecycle timestamps.
type Entry struct {
	Path             shadowpath.ShadowPath
	Content          Content
	OriginalMetadata *shadowpath.FileMetadata
	OverrideMetadata shadowpath.FileMetadata
	CreatedAt        time.Time

	receipt *memtracker.Receipt
}

func (e *Entry) release() {
	if e.receipt != nil {
		e.receipt.Release()
	}
	if e.Content.Kind == KindFile && e.Content.Handle != nil {
		e.Content.Handle.Release()
	}
}

// Size-accounting constants for entrySize (spec §4.4).
const (
	entryHeaderSize  = 64 // sizeof(entry header)
	nameHeaderSize   = 16 // Go string header: pointer + length, 64-bit
	sliceHeaderSize  = 24 // Go slice header: pointer + length + cap
	hashSize         = 32
	arenaPtrOverhead = 32
	mapOverhead      = 64 // per-entry map-overhead constant
)

func entrySize(p shadowpath.ShadowPath, c Content, meta shadowpath.FileMetadata) uint64 {
	base := uint64(entryHeaderSize) + uint64(len(p.String()))
	switch c.Kind {
	case KindFile:
		base += c.Size + hashSize + arenaPtrOverhead
	case KindDirectory:
		base += sliceHeaderSize
		for _, name := range c.Children {
			base += uint64(nameHeaderSize) + uint64(len(name))
		}
	case KindTombstone:
		base += uint64(unsafe.Sizeof(meta)) + mapOverhead
	}
	return base
}

const shardCount = 32

type tableShard struct {
	idx     int
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Table is the concurrent Override Entry Table. The keyspace is sharded
// for concurrent access without a single global lock.
type Table struct {
	caseSensitive bool
	tracker       *memtracker.Tracker
	accessTracker *access.Tracker
	policy        eviction.Policy
	logger        *utils.StructuredLogger
	shards        [shardCount]*tableShard
}

// New creates an Override Entry Table backed by tracker for memory
// accounting and accessTracker for victim bookkeeping, using policy for
// eviction ordering.
func New(tracker *memtracker.Tracker, accessTracker *access.Tracker, policy eviction.Policy, caseSensitive bool) *Table {
	return NewWithLogger(tracker, accessTracker, policy, caseSensitive, nil)
}

// NewWithLogger is New plus a structured logger that receives insert,
// evict, tombstone, and pressure events as they happen. A nil logger
// disables logging, matching New.
func NewWithLogger(tracker *memtracker.Tracker, accessTracker *access.Tracker, policy eviction.Policy, caseSensitive bool, logger *utils.StructuredLogger) *Table {
	t := &Table{
		caseSensitive: caseSensitive,
		tracker:       tracker,
		accessTracker: accessTracker,
		policy:        policy,
		logger:        logger,
	}
	for i := range t.shards {
		t.shards[i] = &tableShard{idx: i, entries: make(map[string]*Entry)}
	}
	return t
}

func (t *Table) logEvent(event, path string, fields map[string]interface{}) {
	if t.logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["path"] = path
	t.logger.WithComponent("entrytable").Info(event, fields)
}

// Key returns the lookup key for p: the byte-exact normalized path when
// case-sensitive, or its lower-cased form otherwise. Uniform use of Key
// across lookup/list/create/delete is what makes case sensitivity
// behavior consistent mount-wide (spec §4.7).
func (t *Table) Key(p shadowpath.ShadowPath) string {
	s := p.String()
	if !t.caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func (t *Table) shardFor(key string) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum32()%shardCount]
}

// Insert reserves memory for content/metadata at path p, running the
// Eviction Engine once under pressure, and stores the resulting entry.
// Implements the insertion-ordering contract of spec §4.4: compute
// required bytes, try to reserve; on failure, evict (excluding p itself)
// and retry once; on continued failure, return OverrideStoreFull.
func (t *Table) Insert(p shadowpath.ShadowPath, content Content, metadata shadowpath.FileMetadata, original *shadowpath.FileMetadata) (*Entry, error) {
	key := t.Key(p)
	required := entrySize(p, content, metadata)

	receipt, err := t.reserve(required, map[string]struct{}{key: {}})
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Path:             p,
		Content:          content,
		OriginalMetadata: original,
		OverrideMetadata: metadata,
		CreatedAt:        time.Now(),
		receipt:          receipt,
	}

	sh := t.shardFor(key)
	sh.mu.Lock()
	old, existed := sh.entries[key]
	sh.entries[key] = entry
	sh.mu.Unlock()

	if existed {
		old.release()
	}

	t.accessTracker.RecordAccess(key)

	switch content.Kind {
	case KindTombstone:
		t.logEvent("tombstone", p.String(), nil)
	default:
		t.logEvent("insert", p.String(), map[string]interface{}{"bytes": required})
	}
	return entry, nil
}

// Get returns the entry at p, recording an access. Returns nil, false on
// a miss — callers must pass the request through to source.
func (t *Table) Get(p shadowpath.ShadowPath) (*Entry, bool) {
	key := t.Key(p)
	sh := t.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		t.accessTracker.RecordAccess(key)
	}
	return e, ok
}

// Peek is Get without recording an access, for internal bookkeeping
// (e.g. rename) that should not perturb LRU ordering.
func (t *Table) Peek(p shadowpath.ShadowPath) (*Entry, bool) {
	key := t.Key(p)
	sh := t.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[key]
	return e, ok
}

// Remove deletes the entry at p, releasing its memory receipt and any
// arena reference it held, and forgetting it in the Access Tracker.
func (t *Table) Remove(p shadowpath.ShadowPath) (*Entry, bool) {
	key := t.Key(p)
	e, ok := t.removeByKey(key)
	if ok {
		e.release()
	}
	return e, ok
}

func (t *Table) removeByKey(key string) (*Entry, bool) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	if ok {
		t.accessTracker.Remove(key)
	}
	return e, ok
}

// Iter returns a snapshot of every entry currently in the table,
// tolerant of concurrent mutation (the snapshot may omit or include
// entries inserted/removed during the call, but never returns a
// corrupted entry).
func (t *Table) Iter() []*Entry {
	var out []*Entry
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len reports the number of entries currently in the table.
func (t *Table) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// reserve allocates required bytes, running the Eviction Engine once
// (excluding the keys in excluded from candidacy) if the first attempt
// fails under pressure, then retrying exactly once before surfacing
// OverrideStoreFull.
func (t *Table) reserve(required uint64, excluded map[string]struct{}) (*memtracker.Receipt, error) {
	receipt, err := t.tracker.TryAllocate(required)
	if err == nil {
		return receipt, nil
	}

	available := t.tracker.AvailableSpace()
	var target uint64
	if required > available {
		target = required - available
	}
	t.logEvent("pressure", "", map[string]interface{}{
		"required_bytes":  required,
		"available_bytes": available,
	})
	t.evictExcluding(target, excluded)

	receipt, err = t.tracker.TryAllocate(required)
	if err != nil {
		return nil, errors.NewOverrideStoreFull(t.tracker.CurrentUsage(), t.tracker.MaxAllowed())
	}
	return receipt, nil
}

// evictExcluding asks the Eviction Engine to free at least targetBytes,
// excluding the given keys from candidacy (so an insert or rename never
// evicts an entry it is itself about to write), then removes the
// selected victims.
func (t *Table) evictExcluding(targetBytes uint64, excluded map[string]struct{}) uint64 {
	if targetBytes == 0 {
		return 0
	}

	var candidates []eviction.Candidate
	for _, sh := range t.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			candidates = append(candidates, eviction.Candidate{
				Path:      k,
				Size:      e.receipt.Size(),
				CreatedAt: e.CreatedAt,
			})
		}
		sh.mu.RUnlock()
	}

	lruOrder := t.accessTracker.OldestFirst()
	accessMap := make(map[string]eviction.AccessInfo, len(candidates))
	for _, s := range t.accessTracker.AllStats() {
		accessMap[s.Path] = eviction.AccessInfo{LastAccess: s.LastAccess, Count: s.AccessCount}
	}

	victims := eviction.SelectVictims(t.policy, candidates, lruOrder, accessMap, targetBytes, excluded)

	var freed uint64
	for _, v := range victims {
		if e, ok := t.removeByKey(v); ok {
			freed += e.receipt.Size()
			t.logEvent("evict", e.Path.String(), map[string]interface{}{
				"bytes":  e.receipt.Size(),
				"policy": t.policy.String(),
			})
			e.release()
		}
	}
	return freed
}

// RenameInto atomically replaces the entry at from with a tombstone and
// the entry at to with content, as a single critical section: both
// shards' locks are held together for the swap, so no Get/Peek call
// racing this rename can observe a state where from and to are either
// both visible or both absent (spec §4.7). Memory for both the new
// content and the new tombstone is reserved before any mutation is
// made visible; if reservation fails even after one eviction pass,
// RenameInto leaves the entries at from and to untouched and returns
// OverrideStoreFull (entries evicted during that pass stay evicted).
func (t *Table) RenameInto(from, to shadowpath.ShadowPath, content Content, toMetadata shadowpath.FileMetadata, original *shadowpath.FileMetadata) (*Entry, error) {
	fromKey := t.Key(from)
	toKey := t.Key(to)
	excluded := map[string]struct{}{fromKey: {}, toKey: {}}

	toReceipt, err := t.reserve(entrySize(to, content, toMetadata), excluded)
	if err != nil {
		return nil, err
	}

	tombContent := TombstoneContent()
	tombMetadata := shadowpath.NewFileMetadata(0, shadowpath.TypeFile)
	fromReceipt, err := t.reserve(entrySize(from, tombContent, tombMetadata), excluded)
	if err != nil {
		toReceipt.Release()
		return nil, err
	}

	toEntry := &Entry{
		Path:             to,
		Content:          content,
		OriginalMetadata: original,
		OverrideMetadata: toMetadata,
		CreatedAt:        time.Now(),
		receipt:          toReceipt,
	}
	fromEntry := &Entry{
		Path:             from,
		Content:          tombContent,
		OverrideMetadata: tombMetadata,
		CreatedAt:        time.Now(),
		receipt:          fromReceipt,
	}

	oldFrom, oldTo := t.swapPair(fromKey, fromEntry, toKey, toEntry)

	// A tombstone is still a keyed entry: invariant I2 requires the
	// Access Tracker and Entry Table to stay in lockstep, so from keeps
	// an access record rather than being forgotten.
	t.accessTracker.RecordAccess(fromKey)
	t.accessTracker.RecordAccess(toKey)

	if oldFrom != nil {
		oldFrom.release()
	}
	if oldTo != nil {
		oldTo.release()
	}
	return toEntry, nil
}

// swapPair installs fromEntry at fromKey and toEntry at toKey as one
// critical section, locking both shards' mutexes together (ordered by
// shard index to avoid deadlocking against a concurrent rename taking
// the same two shards in the opposite order). Returns whatever entries
// previously lived at those keys, for the caller to release.
func (t *Table) swapPair(fromKey string, fromEntry *Entry, toKey string, toEntry *Entry) (oldFrom, oldTo *Entry) {
	shFrom := t.shardFor(fromKey)
	shTo := t.shardFor(toKey)

	if shFrom == shTo {
		shFrom.mu.Lock()
		oldFrom = shFrom.entries[fromKey]
		oldTo = shFrom.entries[toKey]
		shFrom.entries[fromKey] = fromEntry
		shFrom.entries[toKey] = toEntry
		shFrom.mu.Unlock()
		return oldFrom, oldTo
	}

	first, second := shFrom, shTo
	if second.idx < first.idx {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	oldFrom = shFrom.entries[fromKey]
	oldTo = shTo.entries[toKey]
	shFrom.entries[fromKey] = fromEntry
	shTo.entries[toKey] = toEntry
	second.mu.Unlock()
	first.mu.Unlock()
	return oldFrom, oldTo
}
