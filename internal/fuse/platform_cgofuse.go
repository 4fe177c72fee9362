//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/shadowfs/shadowfs/internal/resolver"
)

// PlatformFileSystem is the mount-lifecycle surface common to both
// platform backends.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the cgofuse mount manager, used on
// macOS and Windows where the kernel go-fuse driver isn't available.
func CreatePlatformMountManager(r *resolver.Resolver, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(r, config)
}
