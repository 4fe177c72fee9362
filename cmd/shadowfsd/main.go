// Command shadowfsd mounts a ShadowFS union view: a real source
// directory overlaid with an in-memory override store, presented to the
// kernel over FUSE (or WinFsp on Windows).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shadowfs/shadowfs/internal/access"
	"github.com/shadowfs/shadowfs/internal/arena"
	"github.com/shadowfs/shadowfs/internal/circuit"
	"github.com/shadowfs/shadowfs/internal/config"
	"github.com/shadowfs/shadowfs/internal/entrytable"
	"github.com/shadowfs/shadowfs/internal/eviction"
	shadowfuse "github.com/shadowfs/shadowfs/internal/fuse"
	"github.com/shadowfs/shadowfs/internal/health"
	"github.com/shadowfs/shadowfs/internal/localsource"
	"github.com/shadowfs/shadowfs/internal/memtracker"
	"github.com/shadowfs/shadowfs/internal/metrics"
	"github.com/shadowfs/shadowfs/internal/resolver"
	"github.com/shadowfs/shadowfs/pkg/api"
	"github.com/shadowfs/shadowfs/pkg/retry"
	"github.com/shadowfs/shadowfs/pkg/status"
	"github.com/shadowfs/shadowfs/pkg/utils"
)

var (
	configFile string
	sourceRoot string
	mountPoint string
	readOnly   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shadowfsd",
		Short: "Mount a ShadowFS union filesystem",
		Long: `shadowfsd mounts a source directory overlaid with an in-memory
override store: reads fall through to the real source, writes land in
the override store until memory pressure forces eviction.`,
		RunE: runMount,
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML mount configuration file")
	cmd.Flags().StringVar(&sourceRoot, "source", "", "directory ShadowFS shadows (overrides config file)")
	cmd.Flags().StringVar(&mountPoint, "mount", "", "directory to mount the union view at (overrides config file)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount the union view read-only")

	return cmd
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return fmt.Errorf("shadowfsd: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("shadowfsd: %w", err)
	}
	if sourceRoot != "" {
		cfg.SourceRoot = sourceRoot
	}
	if mountPoint != "" {
		cfg.MountPoint = mountPoint
	}
	if readOnly {
		cfg.ReadOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("shadowfsd: invalid configuration: %w", err)
	}

	mount, err := buildMount(cfg)
	if err != nil {
		return err
	}
	defer mount.arena.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Health.Enabled {
		if err := mount.healthChecker.Start(ctx); err != nil {
			return fmt.Errorf("shadowfsd: starting health checker: %w", err)
		}
		defer mount.healthChecker.Stop()
	}

	if cfg.Metrics.Enabled {
		if err := mount.metricsCollector.Start(ctx); err != nil {
			return fmt.Errorf("shadowfsd: starting metrics server: %w", err)
		}
		defer mount.metricsCollector.Stop(context.Background())
	}

	mount.apiServer.StartBackground()
	defer mount.apiServer.Shutdown(context.Background())

	if err := mount.platformFS.Mount(ctx); err != nil {
		return fmt.Errorf("shadowfsd: mount %s: %w", cfg.MountPoint, err)
	}
	defer mount.platformFS.Unmount()

	fmt.Printf("shadowfs: mounted %s over %s (read_only=%v)\n", cfg.MountPoint, cfg.SourceRoot, cfg.ReadOnly)

	<-ctx.Done()
	fmt.Println("shadowfs: shutting down")
	return nil
}

// mount bundles the wired-up components of one running mount so they
// can be started and torn down together.
type mount struct {
	arena            *arena.Arena
	resolver         *resolver.Resolver
	platformFS       shadowfuse.PlatformFileSystem
	healthChecker    *health.Checker
	statusTracker    *status.Tracker
	metricsCollector *metrics.Collector
	apiServer        *api.Server
}

// buildMount wires every core component (arena, memory tracker, entry
// table, access tracker, eviction policy, resolver) over the configured
// source directory, plus the ambient health/status/metrics/api surface.
func buildMount(cfg *config.MountConfig) (*mount, error) {
	ar, err := arena.New(arena.Config{
		CompressionEnabled:   cfg.CompressionEnabled,
		CompressionThreshold: int(cfg.CompressionThresholdBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("shadowfsd: creating content arena: %w", err)
	}

	tracker := memtracker.New(cfg.OverrideMaxMemoryBytes)
	accessTracker := access.New()

	policy, ok := eviction.ParsePolicy(string(cfg.EvictionPolicy))
	if !ok {
		return nil, fmt.Errorf("shadowfsd: unknown eviction policy %q", cfg.EvictionPolicy)
	}

	logger, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("shadowfsd: creating logger: %w", err)
	}

	table := entrytable.NewWithLogger(tracker, accessTracker, policy, cfg.CaseSensitive, logger)

	breaker := circuit.NewCircuitBreaker("source-fs", circuit.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		IsSuccessful: func(err error) bool {
			// Missing-file errors are a normal outcome of a union-view
			// lookup, not a sign the source directory is unhealthy.
			if err == nil {
				return true
			}
			type notFounder interface{ IsSourceNotFound() bool }
			if v, ok := err.(notFounder); ok {
				return v.IsSourceNotFound()
			}
			return false
		},
	})

	source, err := localsource.NewWithOptions(cfg.SourceRoot, breaker, retry.New(retry.DefaultConfig()))
	if err != nil {
		return nil, fmt.Errorf("shadowfsd: opening source root: %w", err)
	}

	res := resolver.New(resolver.Config{
		ReadOnly:       cfg.ReadOnly,
		CaseSensitive:  cfg.CaseSensitive,
		MaxPathLength:  cfg.MaxPathLength,
		CacheNegatives: cfg.CacheNegatives,
	}, table, ar, source)

	platformFS := shadowfuse.CreatePlatformMountManager(res, &shadowfuse.MountConfig{
		MountPoint: cfg.MountPoint,
		Options: &shadowfuse.MountOptions{
			ReadOnly:     cfg.ReadOnly,
			AllowOther:   cfg.Mount.AllowOther,
			AllowRoot:    cfg.Mount.AllowRoot,
			FSName:       cfg.Mount.FSName,
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Permissions: &shadowfuse.Permissions{
			UID:      uint32(os.Getuid()),
			GID:      uint32(os.Getgid()),
			FileMode: 0644,
			DirMode:  0755,
		},
	})

	healthChecker := health.NewChecker(&health.Config{
		Enabled:       cfg.Health.Enabled,
		CheckInterval: cfg.Health.CheckInterval,
		Timeout:       cfg.Health.Timeout,
	})
	_ = healthChecker.RegisterCheck("source-reachable", "real source directory is listable",
		health.CategorySource, health.PriorityCritical, health.SourceReachableCheck(source))
	_ = healthChecker.RegisterCheck("memory-pressure", "override arena memory pressure",
		health.CategoryMemory, health.PriorityHigh, health.MemoryPressureCheck(tracker, cfg.Health.MemoryPressureMaxPct))
	_ = healthChecker.RegisterCheck("arena-health", "content arena internal consistency",
		health.CategoryCore, health.PriorityMedium, health.ArenaHealthCheck(ar))

	statusTracker := status.NewTracker(status.DefaultConfig())
	statusTracker.RegisterComponent("source")
	statusTracker.RegisterComponent("override-store")

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "shadowfs",
	})
	if err != nil {
		return nil, fmt.Errorf("shadowfsd: creating metrics collector: %w", err)
	}

	apiServer := api.NewServer(api.DefaultServerConfig(), healthChecker, statusTracker, func() resolver.Stats {
		return res.Stats(tracker)
	})

	return &mount{
		arena:            ar,
		resolver:         res,
		platformFS:       platformFS,
		healthChecker:    healthChecker,
		statusTracker:    statusTracker,
		metricsCollector: metricsCollector,
		apiServer:        apiServer,
	}, nil
}
