package health

import (
	"context"
	"fmt"

	"github.com/shadowfs/shadowfs/internal/arena"
	"github.com/shadowfs/shadowfs/internal/memtracker"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/shim"
)

// SourceReachableCheck probes the mounted source directory's root by
// listing it; a failure here means the union view has lost its base
// layer and every lookup will fall through to overrides alone.
func SourceReachableCheck(src shim.SourceFilesystem) CheckFunction {
	root := shadowpath.MustNew("/")
	return func(ctx context.Context) error {
		if _, err := src.SourceList(root); err != nil {
			return fmt.Errorf("source root unreachable: %w", err)
		}
		return nil
	}
}

// MemoryPressureCheck fails once the override store's memory tracker
// crosses the given pressure ratio (0-1), signalling that eviction is
// about to start shedding entries under load.
func MemoryPressureCheck(tr *memtracker.Tracker, maxRatio float64) CheckFunction {
	return func(ctx context.Context) error {
		ratio := tr.PressureRatio()
		if ratio >= maxRatio {
			return fmt.Errorf("override store at %.1f%% of budget (%d/%d bytes)",
				ratio*100, tr.CurrentUsage(), tr.MaxAllowed())
		}
		return nil
	}
}

// ArenaHealthCheck is a lightweight liveness probe over the content
// arena: it just confirms the arena will answer UniqueBlobCount without
// panicking, which is as close to "is dedup storage alive" as a
// read-only check gets for a purely in-process structure.
func ArenaHealthCheck(ar *arena.Arena) CheckFunction {
	return func(ctx context.Context) error {
		_ = ar.UniqueBlobCount()
		return nil
	}
}
