/*
Package config decodes a mount's configuration from YAML files,
environment variables, and compiled-in defaults, in that order of
increasing precedence at load time: defaults first, then a config
file, then environment overlays.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/shadowfs/mount.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

# Configuration file format

	source_root: /data/projects
	mount_point: /mnt/shadow
	read_only: false
	case_sensitive: true
	max_path_length: 4096
	override_max_memory_bytes: 268435456
	eviction_policy: lru
	compression_threshold_bytes: 1048576
	compression_enabled: true
	cache_negatives: true

	global:
	  log_level: INFO
	  log_file: "/var/log/shadowfs.log"

	health:
	  enabled: true
	  check_interval: 30s

	metrics:
	  enabled: true
	  listen: ":9090"

# Environment variables

	SHADOWFS_SOURCE_ROOT
	SHADOWFS_MOUNT_POINT
	SHADOWFS_READ_ONLY
	SHADOWFS_CASE_SENSITIVE
	SHADOWFS_OVERRIDE_MAX_MEMORY_BYTES
	SHADOWFS_EVICTION_POLICY
	SHADOWFS_LOG_LEVEL
*/
package config
