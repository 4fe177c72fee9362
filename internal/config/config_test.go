package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.MaxPathLength != 4096 {
		t.Errorf("Expected MaxPathLength to be 4096, got %d", cfg.MaxPathLength)
	}
	if cfg.EvictionPolicy != EvictionLRU {
		t.Errorf("Expected EvictionPolicy to be lru, got %s", cfg.EvictionPolicy)
	}
	if !cfg.CompressionEnabled {
		t.Error("Expected CompressionEnabled to be true")
	}
	if !cfg.CacheNegatives {
		t.Error("Expected CacheNegatives to be true")
	}
	if cfg.OverrideMaxMemoryBytes == 0 {
		t.Error("Expected OverrideMaxMemoryBytes to be nonzero")
	}
	if !cfg.Health.Enabled {
		t.Error("Expected Health.Enabled to be true")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected Metrics.Enabled to be true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *MountConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.SourceRoot = "/tmp/source"
				cfg.MountPoint = "/tmp/mount"
				return cfg
			},
			wantErr: false,
		},
		{
			name: "missing source root",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.MountPoint = "/tmp/mount"
				return cfg
			},
			wantErr: true,
			errMsg:  "source_root is required",
		},
		{
			name: "missing mount point",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.SourceRoot = "/tmp/source"
				return cfg
			},
			wantErr: true,
			errMsg:  "mount_point is required",
		},
		{
			name: "invalid max path length",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.SourceRoot = "/tmp/source"
				cfg.MountPoint = "/tmp/mount"
				cfg.MaxPathLength = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "max_path_length must be greater than 0",
		},
		{
			name: "invalid eviction policy",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.SourceRoot = "/tmp/source"
				cfg.MountPoint = "/tmp/mount"
				cfg.EvictionPolicy = "bogus"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid eviction_policy",
		},
		{
			name: "invalid log level",
			config: func() *MountConfig {
				cfg := NewDefault()
				cfg.SourceRoot = "/tmp/source"
				cfg.MountPoint = "/tmp/mount"
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
source_root: /data/source
mount_point: /mnt/shadow
read_only: true
eviction_policy: lfu
override_max_memory_bytes: 1073741824
global:
  log_level: DEBUG
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.SourceRoot != "/data/source" {
		t.Errorf("Expected SourceRoot to be /data/source, got %s", cfg.SourceRoot)
	}
	if !cfg.ReadOnly {
		t.Error("Expected ReadOnly to be true")
	}
	if cfg.EvictionPolicy != EvictionLFU {
		t.Errorf("Expected EvictionPolicy to be lfu, got %s", cfg.EvictionPolicy)
	}
	if cfg.OverrideMaxMemoryBytes != 1073741824 {
		t.Errorf("Expected OverrideMaxMemoryBytes to be 1073741824, got %d", cfg.OverrideMaxMemoryBytes)
	}
	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"SHADOWFS_SOURCE_ROOT":               "/data/source",
		"SHADOWFS_MOUNT_POINT":               "/mnt/shadow",
		"SHADOWFS_READ_ONLY":                 "true",
		"SHADOWFS_OVERRIDE_MAX_MEMORY_BYTES": "2147483648",
		"SHADOWFS_EVICTION_POLICY":           "fifo",
		"SHADOWFS_LOG_LEVEL":                 "ERROR",
	}
	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.SourceRoot != "/data/source" {
		t.Errorf("Expected SourceRoot to be /data/source, got %s", cfg.SourceRoot)
	}
	if !cfg.ReadOnly {
		t.Error("Expected ReadOnly to be true")
	}
	if cfg.OverrideMaxMemoryBytes != 2147483648 {
		t.Errorf("Expected OverrideMaxMemoryBytes to be 2147483648, got %d", cfg.OverrideMaxMemoryBytes)
	}
	if cfg.EvictionPolicy != EvictionFIFO {
		t.Errorf("Expected EvictionPolicy to be fifo, got %s", cfg.EvictionPolicy)
	}
	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.SourceRoot = "/data/source"
	cfg.MountPoint = "/mnt/shadow"
	cfg.Global.LogLevel = "DEBUG"

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if newCfg.SourceRoot != "/data/source" {
		t.Errorf("Expected SourceRoot to be /data/source, got %s", newCfg.SourceRoot)
	}
	if newCfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
