package fuse

import (
	"context"
	"log"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/resolver"
	"github.com/shadowfs/shadowfs/internal/shim"
)

func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem adapts the core Resolver to the go-fuse low-level node API.
type FileSystem struct {
	fs.Inode

	resolver *resolver.Resolver
	config   *Config

	mu         sync.RWMutex
	openFiles  map[uint64]*OpenFile
	nextHandle uint64

	stats *Stats
}

// Config represents FUSE mount-surface configuration; the override
// store's own settings (memory ceiling, eviction policy, case
// sensitivity, ...) live in resolver.Config and are set when the
// Resolver is constructed, not here.
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Concurrency int           `yaml:"concurrency"`
}

// OpenFile tracks one open file handle's cursor state.
type OpenFile struct {
	path        string
	flags       uint32
	lastAccess  time.Time
	accessCount int64
}

// Stats tracks filesystem operation counters surfaced by the health and
// metrics packages.
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	Errors int64 `json:"errors"`

	AvgReadTime   time.Duration `json:"avg_read_time"`
	AvgWriteTime  time.Duration `json:"avg_write_time"`
	AvgLookupTime time.Duration `json:"avg_lookup_time"`
}

// NewFileSystem wraps a Resolver for mounting via go-fuse.
func NewFileSystem(r *resolver.Resolver, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			CacheTTL:    5 * time.Minute,
			Concurrency: 16,
		}
	}
	return &FileSystem{
		resolver:   r,
		config:     config,
		openFiles:  make(map[uint64]*OpenFile),
		nextHandle: 1,
		stats:      &Stats{},
	}
}

// Root returns the root inode for the mount.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: fsys, path: "/"}
}

// GetStats returns a snapshot of operation counters.
func (fsys *FileSystem) GetStats() *Stats {
	fsys.stats.mu.RLock()
	defer fsys.stats.mu.RUnlock()
	s := *fsys.stats
	return &s
}

func (fsys *FileSystem) recordLookupTime(d time.Duration) { fsys.recordAvg(&fsys.stats.AvgLookupTime, fsys.stats.Lookups, d) }
func (fsys *FileSystem) recordReadTime(d time.Duration)   { fsys.recordAvg(&fsys.stats.AvgReadTime, fsys.stats.Reads, d) }
func (fsys *FileSystem) recordWriteTime(d time.Duration)  { fsys.recordAvg(&fsys.stats.AvgWriteTime, fsys.stats.Writes, d) }

func (fsys *FileSystem) recordAvg(avg *time.Duration, count int64, d time.Duration) {
	fsys.stats.mu.Lock()
	defer fsys.stats.mu.Unlock()
	if count <= 1 {
		*avg = d
		return
	}
	*avg = time.Duration((int64(*avg)*9 + int64(d)) / 10)
}

// DirectoryNode represents a directory served by the union view.
type DirectoryNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

func (n *DirectoryNode) joinPath(name string) string {
	return path.Join(n.path, name)
}

func metadataToAttr(meta shadowpath.FileMetadata, out *fuse.Attr) {
	out.Size = safeInt64ToUint64(int64(meta.Size))
	out.Mode = meta.Permissions.ToUnixMode()
	switch meta.Type {
	case shadowpath.TypeDirectory:
		out.Mode |= syscall.S_IFDIR
	case shadowpath.TypeSymlink:
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	out.Mtime = safeInt64ToUint64(meta.Modified.Unix())
	out.Atime = safeInt64ToUint64(meta.Accessed.Unix())
	out.Ctime = safeInt64ToUint64(meta.Created.Unix())
}

// Lookup resolves a single child by name.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() { n.fs.recordLookupTime(time.Since(start)) }()

	n.fs.stats.mu.Lock()
	n.fs.stats.Lookups++
	n.fs.stats.mu.Unlock()

	childPath := n.joinPath(name)
	meta, err := n.fs.resolver.LookupMetadata(childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	metadataToAttr(meta, &out.Attr)

	if meta.Type == shadowpath.TypeDirectory {
		return n.NewInode(ctx, &DirectoryNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	return n.NewInode(ctx, &FileNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

// Readdir serves the merged directory listing.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fs.resolver.ListDirectory(n.path)
	if err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		log.Printf("readdir failed for %s: %v", n.path, err)
		return nil, toErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.Metadata.Type == shadowpath.TypeDirectory {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir creates a directory override entry.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.joinPath(name)
	payload := shim.CreatePayload{Type: shadowpath.TypeDirectory, Permissions: shadowpath.FromUnixMode(mode)}
	if err := n.fs.resolver.Create(childPath, payload); err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		return nil, toErrno(err)
	}
	return n.NewInode(ctx, &DirectoryNode{fs: n.fs, path: childPath}, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// Rmdir removes an (empty, by convention) directory via tombstone.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	childPath := n.joinPath(name)
	if err := n.fs.resolver.Delete(childPath); err != nil {
		return toErrno(err)
	}
	n.fs.stats.mu.Lock()
	n.fs.stats.Deletes++
	n.fs.stats.mu.Unlock()
	return 0
}

// Unlink removes a file via tombstone.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	childPath := n.joinPath(name)
	if err := n.fs.resolver.Delete(childPath); err != nil {
		return toErrno(err)
	}
	n.fs.stats.mu.Lock()
	n.fs.stats.Deletes++
	n.fs.stats.mu.Unlock()
	return 0
}

// Rename moves an entry within the union view.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	fromPath := n.joinPath(name)
	destDir, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EXDEV
	}
	toPath := destDir.joinPath(newName)
	if err := n.fs.resolver.Rename(fromPath, toPath); err != nil {
		return toErrno(err)
	}
	return 0
}

// Create creates and opens a new file.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	childPath := n.joinPath(name)
	payload := shim.CreatePayload{Type: shadowpath.TypeFile, Permissions: shadowpath.FromUnixMode(mode)}
	if err := n.fs.resolver.Create(childPath, payload); err != nil {
		return nil, nil, 0, toErrno(err)
	}

	n.fs.stats.mu.Lock()
	n.fs.stats.Creates++
	n.fs.stats.mu.Unlock()

	fileNode := &FileNode{fs: n.fs, path: childPath}
	node = n.NewInode(ctx, fileNode, fs.StableAttr{Mode: syscall.S_IFREG})
	fh, fuseFlags, errno = fileNode.Open(ctx, flags)
	return node, fh, fuseFlags, errno
}

// FileNode represents a regular file served by the union view.
type FileNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

// Open opens a file, allocating a tracked handle.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fs.stats.mu.Lock()
	f.fs.stats.Opens++
	f.fs.stats.mu.Unlock()

	f.fs.mu.Lock()
	handle := f.fs.nextHandle
	f.fs.nextHandle++
	f.fs.openFiles[handle] = &OpenFile{path: f.path, flags: flags, lastAccess: time.Now(), accessCount: 1}
	f.fs.mu.Unlock()

	return &FileHandle{fs: f.fs, handle: handle, path: f.path}, 0, 0
}

// Getattr reports metadata resolved through the union view.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	meta, err := f.fs.resolver.LookupMetadata(f.path)
	if err != nil {
		return toErrno(err)
	}
	metadataToAttr(meta, &out.Attr)
	return 0
}

// FileHandle is an open file's read/write handle.
type FileHandle struct {
	fs     *FileSystem
	handle uint64
	path   string
}

// Read services a FUSE read through the Resolver.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() { fh.fs.recordReadTime(time.Since(start)) }()

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Reads++
	fh.fs.stats.mu.Unlock()

	data, err := fh.fs.resolver.Read(fh.path, off, int64(len(dest)))
	if err != nil {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()
		return nil, toErrno(err)
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.BytesRead += int64(len(data))
	fh.fs.stats.mu.Unlock()

	return fuse.ReadResultData(data), 0
}

// Write services a FUSE write through the Resolver.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	start := time.Now()
	defer func() { fh.fs.recordWriteTime(time.Since(start)) }()

	if err := fh.fs.resolver.Write(fh.path, off, data); err != nil {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()
		return 0, toErrno(err)
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Writes++
	fh.fs.stats.BytesWritten += int64(len(data))
	fh.fs.stats.mu.Unlock()

	return safeIntToUint32(len(data)), 0
}

// Flush is a no-op: writes are already durable in the override store the
// instant Write returns.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release drops the tracked handle.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	fh.fs.mu.Lock()
	delete(fh.fs.openFiles, fh.handle)
	fh.fs.mu.Unlock()
	return 0
}
