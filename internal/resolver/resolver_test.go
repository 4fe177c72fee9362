package resolver

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowfs/shadowfs/internal/access"
	arenapkg "github.com/shadowfs/shadowfs/internal/arena"
	"github.com/shadowfs/shadowfs/internal/entrytable"
	"github.com/shadowfs/shadowfs/internal/eviction"
	"github.com/shadowfs/shadowfs/internal/memtracker"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/shim"
	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

var errSourceNotFound = stderrors.New("source: not found")

type fakeSource struct {
	files map[string][]byte
	dirs  map[string][]shim.DirEntry
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: make(map[string][]byte), dirs: make(map[string][]shim.DirEntry)}
}

func (f *fakeSource) SourceRead(p shadowpath.ShadowPath, offset, length int64) ([]byte, error) {
	data, ok := f.files[p.String()]
	if !ok {
		return nil, errSourceNotFound
	}
	if offset < 0 || offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (f *fakeSource) SourceList(p shadowpath.ShadowPath) ([]shim.DirEntry, error) {
	entries, ok := f.dirs[p.String()]
	if !ok {
		return nil, errSourceNotFound
	}
	return entries, nil
}

func (f *fakeSource) SourceMetadata(p shadowpath.ShadowPath) (shadowpath.FileMetadata, error) {
	if data, ok := f.files[p.String()]; ok {
		return shadowpath.NewFileMetadata(uint64(len(data)), shadowpath.TypeFile), nil
	}
	if _, ok := f.dirs[p.String()]; ok {
		return shadowpath.NewFileMetadata(0, shadowpath.TypeDirectory), nil
	}
	return shadowpath.FileMetadata{}, errSourceNotFound
}

type testHarness struct {
	resolver *Resolver
	table    *entrytable.Table
	arena    *arenapkg.Arena
	tracker  *memtracker.Tracker
	source   *fakeSource
}

func newHarness(t *testing.T, maxBytes uint64, caseSensitive, readOnly bool) *testHarness {
	t.Helper()
	ar, err := arenapkg.New(arenapkg.DefaultConfig())
	require.NoError(t, err)
	tr := memtracker.New(maxBytes)
	at := access.New()
	tab := entrytable.New(tr, at, eviction.LRU, caseSensitive)
	src := newFakeSource()
	r := New(Config{ReadOnly: readOnly, CaseSensitive: caseSensitive, MaxPathLength: 4096}, tab, ar, src)
	return &testHarness{resolver: r, table: tab, arena: ar, tracker: tr, source: src}
}

func asShadowFSError(t *testing.T, err error) *shadowerrors.ShadowFSError {
	t.Helper()
	se, ok := err.(*shadowerrors.ShadowFSError)
	require.Truef(t, ok, "error %v is not a *ShadowFSError", err)
	return se
}

func TestResolver_OverlayWrite(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)

	require.NoError(t, h.resolver.Write("/a.txt", 0, []byte("hello")))

	got, err := h.resolver.Read("/a.txt", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.GreaterOrEqual(t, h.tracker.CurrentUsage(), uint64(5))
}

func TestResolver_Dedup(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)

	require.NoError(t, h.resolver.Write("/a", 0, []byte("xxxx")))
	require.NoError(t, h.resolver.Write("/b", 0, []byte("xxxx")))

	hash := arenapkg.HashBytes([]byte("xxxx"))
	assert.Equal(t, 1, h.arena.UniqueBlobCount())
	assert.Equal(t, 2, h.arena.StrongCount(hash))

	require.NoError(t, h.resolver.Delete("/a"))
	assert.Equal(t, 1, h.arena.StrongCount(hash), "after deleting /a")

	require.NoError(t, h.resolver.Delete("/b"))
	assert.Equal(t, 0, h.arena.StrongCount(hash), "after deleting /b")
}

func TestResolver_TombstoneHidesSource(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)
	h.source.files["/existing.txt"] = []byte("from source")

	_, err := h.resolver.LookupMetadata("/existing.txt")
	require.NoError(t, err, "expected source file to resolve before delete")

	require.NoError(t, h.resolver.Delete("/existing.txt"))

	_, err = h.resolver.LookupMetadata("/existing.txt")
	require.Error(t, err, "expected NotFound after tombstoning a source-backed path")
	assert.Equal(t, shadowerrors.ErrCodeNotFound, asShadowFSError(t, err).Code)
}

func TestResolver_ListingMerge(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)
	h.source.dirs["/dir"] = []shim.DirEntry{
		{Name: "from-source.txt", Metadata: shadowpath.NewFileMetadata(1, shadowpath.TypeFile)},
		{Name: "deleted.txt", Metadata: shadowpath.NewFileMetadata(1, shadowpath.TypeFile)},
	}
	h.source.files["/dir/from-source.txt"] = []byte("y")
	h.source.files["/dir/deleted.txt"] = []byte("x")

	require.NoError(t, h.resolver.Write("/dir/overridden.txt", 0, []byte("x")))
	require.NoError(t, h.resolver.Delete("/dir/deleted.txt"))

	entries, err := h.resolver.ListDirectory("/dir")
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"from-source.txt", "overridden.txt"}, names)
}

func TestResolver_CaseInsensitiveLookup(t *testing.T) {
	h := newHarness(t, 64*1024, false, false)
	require.NoError(t, h.resolver.Write("/Dir/File.TXT", 0, []byte("x")))

	_, err := h.resolver.LookupMetadata("/dir/file.txt")
	assert.NoError(t, err, "expected case-insensitive lookup to succeed")
}

func TestResolver_CaseInsensitiveListing(t *testing.T) {
	h := newHarness(t, 64*1024, false, false)
	require.NoError(t, h.resolver.Write("/SubDir/file.txt", 0, []byte("x")))

	entries, err := h.resolver.ListDirectory("/subdir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name)
}

func TestResolver_RenameMovesEntryAndHidesSource(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)
	require.NoError(t, h.resolver.Write("/old.txt", 0, []byte("payload")))

	require.NoError(t, h.resolver.Rename("/old.txt", "/new.txt"))

	_, err := h.resolver.LookupMetadata("/old.txt")
	assert.Error(t, err, "expected /old.txt to be gone after rename")

	data, err := h.resolver.Read("/new.txt", 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestResolver_ReadOnlyRejectsWrites(t *testing.T) {
	h := newHarness(t, 64*1024, true, true)
	err := h.resolver.Write("/a.txt", 0, []byte("x"))
	require.Error(t, err, "expected PermissionDenied on a read-only mount")
	assert.Equal(t, shadowerrors.ErrCodePermissionDenied, asShadowFSError(t, err).Code)
}

func TestResolver_CreateRejectsExistingEntry(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)
	require.NoError(t, h.resolver.Create("/a.txt", shim.CreatePayload{Type: shadowpath.TypeFile}))

	err := h.resolver.Create("/a.txt", shim.CreatePayload{Type: shadowpath.TypeFile})
	require.Error(t, err, "expected AlreadyExists on second create")
	assert.Equal(t, shadowerrors.ErrCodeAlreadyExists, asShadowFSError(t, err).Code)
}

func TestResolver_StoreFullWhenBudgetExhausted(t *testing.T) {
	h := newHarness(t, 32, true, false)
	err := h.resolver.Write("/big.bin", 0, make([]byte, 1000))
	require.Error(t, err, "expected OverrideStoreFull when the write cannot fit even after eviction")
	assert.Equal(t, shadowerrors.ErrCodeOverrideStoreFull, asShadowFSError(t, err).Code)
}

func TestResolver_Stats(t *testing.T) {
	h := newHarness(t, 64*1024, true, false)
	require.NoError(t, h.resolver.Create("/a.txt", shim.CreatePayload{Type: shadowpath.TypeFile}))
	require.NoError(t, h.resolver.Write("/a.txt", 0, []byte("hello")))

	stats := h.resolver.Stats(h.tracker)
	assert.NotZero(t, stats.OverrideEntryCount, "expected a nonzero OverrideEntryCount after creating an entry")
	assert.NotZero(t, stats.UniqueBlobCount, "expected a nonzero UniqueBlobCount after writing content")
	assert.NotZero(t, stats.MemoryUsedBytes, "expected nonzero MemoryUsedBytes")
	assert.Equal(t, uint64(64*1024), stats.MemoryMaxBytes)
	assert.True(t, stats.CaseSensitive)
}
