// Package config holds the YAML-loadable tuning knobs for the
// compaction pipeline: directories, channel capacities, the merger's
// amplification threshold, and the archival codec.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config tunes a single database's compactor, merger, and archiver.
type Config struct {
	// PendingDir is the staging directory for logs awaiting compaction,
	// relative to the database path. Default "to_compact".
	PendingDir string `yaml:"pending_dir"`

	// SnapshotDir names the finalized-snapshot directory, relative to the
	// database path. Default "snapshots". Validate requires it to be
	// non-empty, but nothing reads it: the snapshot package always uses
	// its fixed Dir ("snapshots").
	SnapshotDir string `yaml:"snapshot_dir"`

	// CompactorChannelCapacity bounds the compactor's request channel.
	CompactorChannelCapacity int `yaml:"compactor_channel_capacity"`

	// MergerChannelCapacity bounds the merger's registration channel.
	MergerChannelCapacity int `yaml:"merger_channel_capacity"`

	// AmplificationFactor is the space-amplification threshold: the
	// merger compacts once cumulative frame_count reaches this multiple
	// of the database's page count.
	AmplificationFactor uint64 `yaml:"amplification_factor"`

	// MaxSnapshotCount is the hard cap on registry length; exceeding it
	// forces a merge regardless of amplification.
	MaxSnapshotCount int `yaml:"max_snapshot_count"`

	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig controls whether snapshots displaced by a merge are
// compressed into an archive directory before removal, rather than
// simply unlinked.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Codec selects the compression algorithm: "lz4", "snappy", or
	// "zstd". Required when Enabled is true.
	Codec string `yaml:"codec"`

	// Dir is the archive directory, relative to the database path.
	Dir string `yaml:"dir"`
}

// Default returns the compaction pipeline's default configuration.
func Default() *Config {
	return &Config{
		PendingDir:               "to_compact",
		SnapshotDir:              "snapshots",
		CompactorChannelCapacity: 8,
		MergerChannelCapacity:    1,
		AmplificationFactor:      2,
		MaxSnapshotCount:         32,
		Archive: ArchiveConfig{
			Enabled: false,
			Codec:   "lz4",
			Dir:     "snapshots/archive",
		},
	}
}

// Load reads and validates a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

var validCodecs = map[string]bool{"lz4": true, "snappy": true, "zstd": true}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.PendingDir == "" {
		return fmt.Errorf("pending_dir cannot be empty")
	}
	if c.SnapshotDir == "" {
		return fmt.Errorf("snapshot_dir cannot be empty")
	}
	if c.CompactorChannelCapacity <= 0 {
		return fmt.Errorf("compactor_channel_capacity must be positive: %d", c.CompactorChannelCapacity)
	}
	if c.MergerChannelCapacity <= 0 {
		return fmt.Errorf("merger_channel_capacity must be positive: %d", c.MergerChannelCapacity)
	}
	if c.AmplificationFactor == 0 {
		return fmt.Errorf("amplification_factor must be positive")
	}
	if c.MaxSnapshotCount <= 0 {
		return fmt.Errorf("max_snapshot_count must be positive: %d", c.MaxSnapshotCount)
	}
	if c.Archive.Enabled && !validCodecs[c.Archive.Codec] {
		return fmt.Errorf("unsupported archive codec: %q", c.Archive.Codec)
	}
	return nil
}
