/*
Package fuse provides the cross-platform mount surface for ShadowFS: a
boundary shim translating POSIX filesystem calls into Resolver
operations (lookup-metadata, read, list-directory, create, open-for-write,
delete, rename). It supports two backends selected by build tag:

Default build (go-fuse):
  - Target: Linux, via github.com/hanwen/go-fuse/v2
  - FileSystem/DirectoryNode/FileNode/FileHandle implement the
    fs.InodeEmbedder node API directly against a *resolver.Resolver.

cgofuse build (-tags cgofuse):
  - Target: macOS, Windows, via github.com/winfsp/cgofuse
  - CgoFuseFS implements the flat fuse.FileSystemBase callback
    interface against the same *resolver.Resolver.

Both backends are thin: they own no filesystem state themselves. Every
operation is forwarded to the Resolver and its *errors.ShadowFSError
result translated to a platform error code (toErrno / cgoErrno).

	r := resolver.New(resolver.Config{...}, table, arena, source)
	mgr := fuse.CreatePlatformMountManager(r, &fuse.MountConfig{
		MountPoint: "/mnt/shadow",
		Options:    &fuse.MountOptions{...},
		Permissions: &fuse.Permissions{...},
	})
	if err := mgr.Mount(ctx); err != nil {
		log.Fatal(err)
	}
	defer mgr.Unmount()
*/
package fuse
