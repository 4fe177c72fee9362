//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/shadowfs/shadowfs/internal/resolver"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager creates a cgofuse mount manager over r.
func NewCgoFuseMountManager(r *resolver.Resolver, config *MountConfig) *CgoFuseMountManager {
	fuseConfig := &Config{
		MountPoint: config.MountPoint,
		ReadOnly:   config.Options.ReadOnly,
		AllowOther: config.Options.AllowOther,
		DefaultUID: config.Permissions.UID,
		DefaultGID: config.Permissions.GID,
	}

	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(r, fuseConfig),
		config:     config,
	}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted reports whether the mount is active.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns filesystem statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}
