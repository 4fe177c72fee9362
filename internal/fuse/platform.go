//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/shadowfs/shadowfs/internal/resolver"
)

// PlatformFileSystem is the mount-lifecycle surface common to both
// platform backends (kernel go-fuse here, cgofuse under the cgofuse
// build tag).
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the go-fuse mount manager, the
// default on Linux where the kernel fuse driver is available.
func CreatePlatformMountManager(r *resolver.Resolver, config *MountConfig) PlatformFileSystem {
	fuseConfig := &Config{
		MountPoint: config.MountPoint,
		ReadOnly:   config.Options.ReadOnly,
		AllowOther: config.Options.AllowOther,
		DefaultUID: config.Permissions.UID,
		DefaultGID: config.Permissions.GID,
		CacheTTL:   config.Options.AttrTimeout,
	}

	filesystem := NewFileSystem(r, fuseConfig)
	return NewMountManager(filesystem, config)
}
