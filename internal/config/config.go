// Package config decodes a mount's YAML configuration into the settings
// the core components and boundary shim need to start serving.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EvictionPolicyName names one of the four supported eviction policies
// (internal/eviction.Policy), as spelled in YAML/env configuration.
type EvictionPolicyName string

const (
	EvictionLRU          EvictionPolicyName = "lru"
	EvictionLFU          EvictionPolicyName = "lfu"
	EvictionFIFO         EvictionPolicyName = "fifo"
	EvictionSizeWeighted EvictionPolicyName = "size_weighted"
)

// MountConfig is the complete configuration for one ShadowFS mount:
// the core mount-contract fields (spec §6) plus the ambient fields any
// mount daemon carries (logging, metrics, health).
type MountConfig struct {
	SourceRoot string `yaml:"source_root"`
	MountPoint string `yaml:"mount_point"`

	// Core mount contract (spec §6).
	ReadOnly                  bool               `yaml:"read_only"`
	CaseSensitive             bool               `yaml:"case_sensitive"`
	MaxPathLength             int                `yaml:"max_path_length"`
	OverrideMaxMemoryBytes    uint64             `yaml:"override_max_memory_bytes"`
	EvictionPolicy            EvictionPolicyName `yaml:"eviction_policy"`
	CompressionThresholdBytes uint64             `yaml:"compression_threshold_bytes"`
	CompressionEnabled        bool               `yaml:"compression_enabled"`
	CacheNegatives            bool               `yaml:"cache_negatives"`

	Global  GlobalConfig  `yaml:"global"`
	Health  HealthConfig  `yaml:"health"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mount   MountSurface  `yaml:"mount_surface"`
}

// GlobalConfig carries daemon-wide ambient settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// HealthConfig controls the health checker (internal/health).
type HealthConfig struct {
	Enabled              bool          `yaml:"enabled"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	Timeout              time.Duration `yaml:"timeout"`
	MemoryPressureMaxPct float64       `yaml:"memory_pressure_max_pct"`
}

// MetricsConfig controls the Prometheus metrics surface
// (internal/metrics).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MountSurface carries platform mount-option settings consumed by
// internal/fuse.
type MountSurface struct {
	AllowOther bool   `yaml:"allow_other"`
	AllowRoot  bool   `yaml:"allow_root"`
	FSName     string `yaml:"fsname"`
}

// NewDefault returns a MountConfig with sensible defaults.
func NewDefault() *MountConfig {
	return &MountConfig{
		MaxPathLength:             4096,
		OverrideMaxMemoryBytes:    256 * 1024 * 1024,
		EvictionPolicy:            EvictionLRU,
		CompressionThresholdBytes: 1024 * 1024,
		CompressionEnabled:        true,
		CacheNegatives:            true,
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Health: HealthConfig{
			Enabled:              true,
			CheckInterval:        30 * time.Second,
			Timeout:              5 * time.Second,
			MemoryPressureMaxPct: 0.9,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Mount: MountSurface{
			FSName: "shadowfs",
		},
	}
}

// LoadFromFile decodes configuration from a YAML file onto c, so fields
// the file leaves unset keep c's current values (the defaults, when c
// came from NewDefault()).
func (c *MountConfig) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays SHADOWFS_* environment variables onto c.
func (c *MountConfig) LoadFromEnv() error {
	if val := os.Getenv("SHADOWFS_SOURCE_ROOT"); val != "" {
		c.SourceRoot = val
	}
	if val := os.Getenv("SHADOWFS_MOUNT_POINT"); val != "" {
		c.MountPoint = val
	}
	if val := os.Getenv("SHADOWFS_READ_ONLY"); val != "" {
		c.ReadOnly = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SHADOWFS_CASE_SENSITIVE"); val != "" {
		c.CaseSensitive = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SHADOWFS_OVERRIDE_MAX_MEMORY_BYTES"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.OverrideMaxMemoryBytes = n
		}
	}
	if val := os.Getenv("SHADOWFS_EVICTION_POLICY"); val != "" {
		c.EvictionPolicy = EvictionPolicyName(strings.ToLower(val))
	}
	if val := os.Getenv("SHADOWFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	return nil
}

// SaveToFile writes c as YAML to filename, creating parent directories
// as needed.
func (c *MountConfig) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the fields that would otherwise fail confusingly deep
// inside component construction.
func (c *MountConfig) Validate() error {
	if c.SourceRoot == "" {
		return fmt.Errorf("source_root is required")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("mount_point is required")
	}
	if c.MaxPathLength <= 0 {
		return fmt.Errorf("max_path_length must be greater than 0")
	}
	if c.OverrideMaxMemoryBytes == 0 {
		return fmt.Errorf("override_max_memory_bytes must be greater than 0")
	}
	switch c.EvictionPolicy {
	case EvictionLRU, EvictionLFU, EvictionFIFO, EvictionSizeWeighted:
	default:
		return fmt.Errorf("invalid eviction_policy: %s", c.EvictionPolicy)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	return nil
}
