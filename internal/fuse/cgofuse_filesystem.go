//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/resolver"
	"github.com/shadowfs/shadowfs/internal/shim"
)

// CgoFuseFS implements the union view via cgofuse, for macOS and Windows
// mounts where the kernel go-fuse driver isn't available.
type CgoFuseFS struct {
	fuse.FileSystemBase

	resolver *resolver.Resolver
	config   *Config

	mu         sync.RWMutex
	openFiles  map[uint64]*OpenFile
	nextHandle uint64
	host       *fuse.FileSystemHost
	mounted    bool
	stats      *Stats
}

// NewCgoFuseFS wraps a Resolver for mounting via cgofuse.
func NewCgoFuseFS(r *resolver.Resolver, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		resolver:   r,
		config:     config,
		openFiles:  make(map[uint64]*OpenFile),
		nextHandle: 1,
		stats:      &Stats{},
	}
}

// Mount mounts the filesystem at config.MountPoint.
func (cf *CgoFuseFS) Mount(ctx context.Context) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=shadowfs",
		"-o", "subtype=union",
	}
	if cf.config.AllowOther {
		options = append(options, "-o", "allow_other")
	}

	switch runtime.GOOS {
	case "darwin":
		options = append(options, "-o", "volname=ShadowFS")
	case "windows":
		options = append(options, "-o", "FileSystemName=ShadowFS")
	}

	go func() {
		ret := cf.host.Mount(cf.config.MountPoint, options)
		if ret != 0 {
			log.Printf("mount failed with code: %d", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	cf.mounted = true
	log.Printf("ShadowFS mounted at: %s", cf.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if cf.host != nil {
		if ret := cf.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}
	cf.mounted = false
	log.Printf("ShadowFS unmounted from: %s", cf.config.MountPoint)
	return nil
}

// IsMounted reports whether the mount is active.
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

func fillStatFromMetadata(stat *fuse.Stat_t, meta shadowpath.FileMetadata) {
	mode := meta.Permissions.ToUnixMode()
	switch meta.Type {
	case shadowpath.TypeDirectory:
		stat.Mode = fuse.S_IFDIR | mode
		stat.Nlink = 2
	default:
		stat.Mode = fuse.S_IFREG | mode
		stat.Nlink = 1
	}
	stat.Size = int64(meta.Size)
	stat.Mtim.Sec = meta.Modified.Unix()
	stat.Mtim.Nsec = int64(meta.Modified.Nanosecond())
	stat.Atim.Sec = meta.Accessed.Unix()
	stat.Ctim.Sec = meta.Created.Unix()
}

func cgoErrno(err error) int {
	return -int(toErrno(err))
}

// Getattr reports attributes resolved through the union view.
func (cf *CgoFuseFS) Getattr(p string, stat *fuse.Stat_t, fh uint64) int {
	defer cf.recordOperation("getattr")

	meta, err := cf.resolver.LookupMetadata(p)
	if err != nil {
		return cgoErrno(err)
	}
	fillStatFromMetadata(stat, meta)
	return 0
}

// Open registers a handle for subsequent Read/Write calls.
func (cf *CgoFuseFS) Open(p string, flags int) (int, uint64) {
	defer cf.recordOperation("open")

	cf.mu.Lock()
	handle := cf.nextHandle
	cf.nextHandle++
	cf.openFiles[handle] = &OpenFile{path: p, lastAccess: time.Now(), accessCount: 1}
	cf.mu.Unlock()

	return 0, handle
}

// Create creates then opens a new file.
func (cf *CgoFuseFS) Create(p string, flags int, mode uint32) (int, uint64) {
	defer cf.recordOperation("create")

	payload := shim.CreatePayload{Type: shadowpath.TypeFile, Permissions: shadowpath.FromUnixMode(mode)}
	if err := cf.resolver.Create(p, payload); err != nil {
		return cgoErrno(err), 0
	}
	_, handle := cf.Open(p, flags)
	return 0, handle
}

// Mkdir creates a directory override entry.
func (cf *CgoFuseFS) Mkdir(p string, mode uint32) int {
	defer cf.recordOperation("mkdir")
	payload := shim.CreatePayload{Type: shadowpath.TypeDirectory, Permissions: shadowpath.FromUnixMode(mode)}
	if err := cf.resolver.Create(p, payload); err != nil {
		return cgoErrno(err)
	}
	return 0
}

// Unlink removes a file via tombstone.
func (cf *CgoFuseFS) Unlink(p string) int {
	defer cf.recordOperation("unlink")
	if err := cf.resolver.Delete(p); err != nil {
		return cgoErrno(err)
	}
	return 0
}

// Rmdir removes a directory via tombstone.
func (cf *CgoFuseFS) Rmdir(p string) int {
	defer cf.recordOperation("rmdir")
	if err := cf.resolver.Delete(p); err != nil {
		return cgoErrno(err)
	}
	return 0
}

// Rename moves an entry within the union view.
func (cf *CgoFuseFS) Rename(oldpath, newpath string) int {
	defer cf.recordOperation("rename")
	if err := cf.resolver.Rename(oldpath, newpath); err != nil {
		return cgoErrno(err)
	}
	return 0
}

// Read reads from a file through the Resolver.
func (cf *CgoFuseFS) Read(p string, buff []byte, ofst int64, fh uint64) int {
	defer cf.recordOperation("read")

	data, err := cf.resolver.Read(p, ofst, int64(len(buff)))
	if err != nil {
		return cgoErrno(err)
	}
	copy(buff, data)
	return len(data)
}

// Write writes to a file through the Resolver.
func (cf *CgoFuseFS) Write(p string, buff []byte, ofst int64, fh uint64) int {
	defer cf.recordOperation("write")

	if err := cf.resolver.Write(p, ofst, buff); err != nil {
		return cgoErrno(err)
	}
	return len(buff)
}

// Release closes a file handle.
func (cf *CgoFuseFS) Release(p string, fh uint64) int {
	defer cf.recordOperation("release")
	cf.mu.Lock()
	delete(cf.openFiles, fh)
	cf.mu.Unlock()
	return 0
}

// Readdir serves the merged directory listing.
func (cf *CgoFuseFS) Readdir(p string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	defer cf.recordOperation("readdir")

	fill(".", nil, 0)
	fill("..", nil, 0)

	entries, err := cf.resolver.ListDirectory(p)
	if err != nil {
		return cgoErrno(err)
	}

	for _, e := range entries {
		stat := &fuse.Stat_t{}
		fillStatFromMetadata(stat, e.Metadata)
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

func (cf *CgoFuseFS) recordOperation(op string) {
	cf.stats.mu.Lock()
	defer cf.stats.mu.Unlock()
	switch op {
	case "read":
		cf.stats.Reads++
	case "write":
		cf.stats.Writes++
	case "getattr":
		cf.stats.Lookups++
	case "open", "create":
		cf.stats.Opens++
	}
}

// GetStats returns a snapshot of operation counters.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	cf.stats.mu.RLock()
	defer cf.stats.mu.RUnlock()
	return &FilesystemStats{
		Lookups:      cf.stats.Lookups,
		Opens:        cf.stats.Opens,
		Reads:        cf.stats.Reads,
		Writes:       cf.stats.Writes,
		BytesRead:    cf.stats.BytesRead,
		BytesWritten: cf.stats.BytesWritten,
		Errors:       cf.stats.Errors,
	}
}
