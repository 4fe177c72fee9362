// Package resolver implements ShadowFS's Union-View Resolver (component
// C7): the merge of override entries with the source filesystem that
// answers every boundary-shim request.
package resolver

import (
	"sort"
	"strings"
	"time"

	"github.com/shadowfs/shadowfs/internal/arena"
	"github.com/shadowfs/shadowfs/internal/buffer"
	"github.com/shadowfs/shadowfs/internal/entrytable"
	"github.com/shadowfs/shadowfs/internal/memtracker"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/shim"
	"github.com/shadowfs/shadowfs/pkg/errors"
)

// Config carries the mount-wide settings the Resolver consults directly
// (spec §6). The remaining configuration fields (memory ceiling,
// eviction policy, compression) are consumed upstream when constructing
// the Memory Tracker, Entry Table, and Content Arena.
type Config struct {
	ReadOnly       bool
	CaseSensitive  bool
	MaxPathLength  int
	CacheNegatives bool
}

// Resolver answers {operation, path, payload} requests from a boundary
// shim by consulting the Entry Table and, on a miss, the source
// filesystem.
type Resolver struct {
	config Config
	table  *entrytable.Table
	arena  *arena.Arena
	source shim.SourceFilesystem

	negatives *negativeCache
	renames   *keyedMutex
}

// New constructs a Resolver over an already-built Entry Table and
// Content Arena, delegating source reads to source.
func New(config Config, table *entrytable.Table, ar *arena.Arena, source shim.SourceFilesystem) *Resolver {
	r := &Resolver{
		config: config,
		table:  table,
		arena:  ar,
		source: source,
		renames: newKeyedMutex(),
	}
	if config.CacheNegatives {
		r.negatives = newNegativeCache()
	}
	return r
}

func (r *Resolver) normalize(raw string) (shadowpath.ShadowPath, error) {
	return shadowpath.NewValidated(raw, r.config.MaxPathLength)
}

func (r *Resolver) foldName(name string) string {
	if r.config.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// resolvedExists reports whether p currently resolves to something other
// than NotFound, without fetching its full content.
func (r *Resolver) resolvedExists(p shadowpath.ShadowPath) bool {
	if e, ok := r.table.Peek(p); ok {
		return e.Content.Kind != entrytable.KindTombstone
	}
	if r.negatives.knows(p) {
		return false
	}
	_, err := r.source.SourceMetadata(p)
	if err != nil {
		r.negatives.remember(p)
		return false
	}
	return true
}

// LookupMetadata implements the lookup-metadata operation.
func (r *Resolver) LookupMetadata(raw string) (shadowpath.FileMetadata, error) {
	p, err := r.normalize(raw)
	if err != nil {
		return shadowpath.FileMetadata{}, err
	}

	if e, ok := r.table.Get(p); ok {
		if e.Content.Kind == entrytable.KindTombstone {
			return shadowpath.FileMetadata{}, errors.NewNotFound(p.String()).WithOperation("lookup-metadata").WithComponent("resolver")
		}
		return e.OverrideMetadata, nil
	}

	if r.negatives.knows(p) {
		return shadowpath.FileMetadata{}, errors.NewNotFound(p.String()).WithOperation("lookup-metadata").WithComponent("resolver")
	}

	meta, err := r.source.SourceMetadata(p)
	if err != nil {
		r.negatives.remember(p)
		return shadowpath.FileMetadata{}, errors.NewNotFound(p.String()).WithOperation("lookup-metadata").WithComponent("resolver").WithCause(err)
	}
	return meta, nil
}

// Read implements the read operation: a short/zero-byte-safe range read
// served from the override entry when one exists, or passed through to
// source otherwise.
func (r *Resolver) Read(raw string, offset, length int64) ([]byte, error) {
	p, err := r.normalize(raw)
	if err != nil {
		return nil, err
	}

	if e, ok := r.table.Get(p); ok {
		switch e.Content.Kind {
		case entrytable.KindTombstone:
			return nil, errors.NewNotFound(p.String()).WithOperation("read").WithComponent("resolver")
		case entrytable.KindDirectory:
			return nil, errors.NewIsADirectory(p.String()).WithOperation("read").WithComponent("resolver")
		default:
			return arena.ReadRange(e.Content.Handle, offset, length)
		}
	}

	if r.negatives.knows(p) {
		return nil, errors.NewNotFound(p.String()).WithOperation("read").WithComponent("resolver")
	}

	data, err := r.source.SourceRead(p, offset, length)
	if err != nil {
		r.negatives.remember(p)
		return nil, errors.NewNotFound(p.String()).WithOperation("read").WithComponent("resolver").WithCause(err)
	}
	return data, nil
}

// ListDirectory implements the list-directory operation, merging the
// source listing with override File/Directory entries and Tombstones
// for children of p (spec §4.7 merge rule).
func (r *Resolver) ListDirectory(raw string) ([]shim.DirEntry, error) {
	p, err := r.normalize(raw)
	if err != nil {
		return nil, err
	}

	sawOverrideDir := false
	if e, ok := r.table.Get(p); ok {
		switch e.Content.Kind {
		case entrytable.KindTombstone:
			return nil, errors.NewNotFound(p.String()).WithOperation("list-directory").WithComponent("resolver")
		case entrytable.KindFile:
			return nil, errors.NewNotADirectory(p.String()).WithOperation("list-directory").WithComponent("resolver")
		case entrytable.KindDirectory:
			sawOverrideDir = true
		}
	}

	merged := make(map[string]shim.DirEntry)
	sourceOK := false
	if sourceEntries, srcErr := r.source.SourceList(p); srcErr == nil {
		sourceOK = true
		for _, de := range sourceEntries {
			merged[r.foldName(de.Name)] = de
		}
	}

	for _, child := range r.table.Iter() {
		parent, ok := child.Path.Parent()
		if !ok || r.foldName(parent.String()) != r.foldName(p.String()) {
			continue
		}
		name := child.Path.Name()
		key := r.foldName(name)
		if child.Content.Kind == entrytable.KindTombstone {
			delete(merged, key)
			continue
		}
		merged[key] = shim.DirEntry{Name: name, Metadata: child.OverrideMetadata}
	}

	if !sourceOK && !sawOverrideDir && len(merged) == 0 {
		return nil, errors.NewNotFound(p.String()).WithOperation("list-directory").WithComponent("resolver")
	}

	out := make([]shim.DirEntry, 0, len(merged))
	for _, de := range merged {
		out = append(out, de)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// parentIsDirectory reports whether parent resolves as a directory
// (or is the mount root, which always is one).
func (r *Resolver) parentIsDirectory(parent shadowpath.ShadowPath) bool {
	if parent.IsRoot() {
		return true
	}
	if e, ok := r.table.Peek(parent); ok {
		return e.Content.Kind == entrytable.KindDirectory
	}
	meta, err := r.source.SourceMetadata(parent)
	if err != nil {
		return false
	}
	return meta.Type == shadowpath.TypeDirectory
}

// Create implements the create operation.
func (r *Resolver) Create(raw string, payload shim.CreatePayload) error {
	if r.config.ReadOnly {
		return errors.NewPermissionDenied(raw, "create").WithComponent("resolver")
	}
	p, err := r.normalize(raw)
	if err != nil {
		return err
	}

	if parent, ok := p.Parent(); ok && !r.parentIsDirectory(parent) {
		return errors.NewNotADirectory(parent.String()).WithOperation("create").WithComponent("resolver")
	}
	if r.resolvedExists(p) {
		return errors.NewAlreadyExists(p.String()).WithOperation("create").WithComponent("resolver")
	}

	var content entrytable.Content
	typ := payload.Type
	if typ == shadowpath.TypeDirectory {
		content = entrytable.DirectoryContent(nil)
	} else {
		_, handle, err := r.arena.Store(nil)
		if err != nil {
			return err
		}
		content = entrytable.FileContent(handle)
		typ = shadowpath.TypeFile
	}

	meta := shadowpath.NewFileMetadata(0, typ)
	if payload.Permissions != 0 {
		meta.Permissions = payload.Permissions
	}

	if _, err := r.table.Insert(p, content, meta, nil); err != nil {
		return err
	}
	r.negatives.forget(p)
	return nil
}

// Write implements the open-for-write operation: writing bytes at an
// offset, snapshotting source content/metadata on first touch.
func (r *Resolver) Write(raw string, offset int64, data []byte) error {
	if r.config.ReadOnly {
		return errors.NewPermissionDenied(raw, "write").WithComponent("resolver")
	}
	p, err := r.normalize(raw)
	if err != nil {
		return err
	}

	existing, hasEntry := r.table.Peek(p)
	var base []byte
	var original *shadowpath.FileMetadata
	var overrideMeta shadowpath.FileMetadata

	switch {
	case hasEntry && existing.Content.Kind == entrytable.KindDirectory:
		return errors.NewIsADirectory(p.String()).WithOperation("write").WithComponent("resolver")
	case hasEntry && existing.Content.Kind == entrytable.KindFile:
		b, err := existing.Content.Handle.Bytes()
		if err != nil {
			return err
		}
		base = b
		original = existing.OriginalMetadata
		overrideMeta = existing.OverrideMetadata
	default:
		// No live override entry (absent, or a tombstone — either way
		// the write starts a fresh file rather than resurrecting
		// whatever a tombstone was hiding).
		if !hasEntry {
			if meta, err := r.source.SourceMetadata(p); err == nil {
				snapshot := meta
				original = &snapshot
				overrideMeta = meta
				if data2, err := r.source.SourceRead(p, 0, int64(meta.Size)); err == nil {
					base = data2
				}
			} else {
				overrideMeta = shadowpath.NewFileMetadata(0, shadowpath.TypeFile)
			}
		} else {
			overrideMeta = shadowpath.NewFileMetadata(0, shadowpath.TypeFile)
		}
	}

	newData := applyWrite(base, offset, data)
	buffer.Default.Put(base)
	_, handle, err := r.arena.Store(newData)
	if err != nil {
		return err
	}

	overrideMeta.Size = uint64(len(newData))
	overrideMeta.Modified = time.Now()

	if _, err := r.table.Insert(p, entrytable.FileContent(handle), overrideMeta, original); err != nil {
		return err
	}
	r.negatives.forget(p)
	return nil
}

func applyWrite(base []byte, offset int64, data []byte) []byte {
	if offset < 0 {
		offset = 0
	}
	end := offset + int64(len(data))
	size := end
	if int64(len(base)) > size {
		size = int64(len(base))
	}
	out := make([]byte, size)
	copy(out, base)
	copy(out[offset:], data)
	return out
}

// Delete implements the delete operation: inserting a Tombstone so the
// source is never re-exposed by a plain removal.
func (r *Resolver) Delete(raw string) error {
	if r.config.ReadOnly {
		return errors.NewPermissionDenied(raw, "delete").WithComponent("resolver")
	}
	p, err := r.normalize(raw)
	if err != nil {
		return err
	}
	if !r.resolvedExists(p) {
		return errors.NewNotFound(p.String()).WithOperation("delete").WithComponent("resolver")
	}

	meta := shadowpath.NewFileMetadata(0, shadowpath.TypeFile)
	if _, err := r.table.Insert(p, entrytable.TombstoneContent(), meta, nil); err != nil {
		return err
	}
	return nil
}

// Rename implements the rename operation, serialized through a pair of
// per-parent-directory locks and committed via Table.RenameInto so no
// racing lookup can observe from and to as either both visible or both
// missing.
func (r *Resolver) Rename(fromRaw, toRaw string) error {
	if r.config.ReadOnly {
		return errors.NewPermissionDenied(fromRaw, "rename").WithComponent("resolver")
	}
	from, err := r.normalize(fromRaw)
	if err != nil {
		return err
	}
	to, err := r.normalize(toRaw)
	if err != nil {
		return err
	}

	fromParent, _ := from.Parent()
	toParent, _ := to.Parent()
	unlock := r.renames.lockPair(fromParent.String(), toParent.String())
	defer unlock()

	if !r.resolvedExists(from) {
		return errors.NewNotFound(from.String()).WithOperation("rename").WithComponent("resolver")
	}
	if r.resolvedExists(to) {
		return errors.NewAlreadyExists(to.String()).WithOperation("rename").WithComponent("resolver")
	}

	var content entrytable.Content
	var meta shadowpath.FileMetadata
	var original *shadowpath.FileMetadata

	if e, ok := r.table.Peek(from); ok {
		content = e.Content
		meta = e.OverrideMetadata
		original = e.OriginalMetadata
	} else {
		srcMeta, err := r.source.SourceMetadata(from)
		if err != nil {
			return errors.NewNotFound(from.String()).WithOperation("rename").WithComponent("resolver")
		}
		meta = srcMeta
		snapshot := srcMeta
		original = &snapshot
		if srcMeta.Type == shadowpath.TypeDirectory {
			content = entrytable.DirectoryContent(nil)
		} else {
			data, _ := r.source.SourceRead(from, 0, int64(srcMeta.Size))
			_, handle, serr := r.arena.Store(data)
			buffer.Default.Put(data)
			if serr != nil {
				return serr
			}
			content = entrytable.FileContent(handle)
		}
	}

	if _, err := r.table.RenameInto(from, to, content, meta, original); err != nil {
		return err
	}
	r.negatives.forget(to)
	r.negatives.remember(from)
	return nil
}

// Stats is a point-in-time health and capability snapshot of the mount,
// suitable for a health check or status endpoint.
type Stats struct {
	OverrideEntryCount uint64
	UniqueBlobCount    uint64
	MemoryUsedBytes    uint64
	MemoryMaxBytes     uint64
	MemoryPressure     float64
	ReadOnly           bool
	CaseSensitive      bool
}

// Stats returns a snapshot of the Resolver's current memory usage and
// entry/blob counts. It takes no locks beyond those its constituent
// components already hold internally, so it is safe to call
// concurrently with ongoing operations.
func (r *Resolver) Stats(tracker *memtracker.Tracker) Stats {
	return Stats{
		OverrideEntryCount: uint64(r.table.Len()),
		UniqueBlobCount:    uint64(r.arena.UniqueBlobCount()),
		MemoryUsedBytes:    tracker.CurrentUsage(),
		MemoryMaxBytes:     tracker.MaxAllowed(),
		MemoryPressure:     tracker.PressureRatio(),
		ReadOnly:           r.config.ReadOnly,
		CaseSensitive:      r.config.CaseSensitive,
	}
}
