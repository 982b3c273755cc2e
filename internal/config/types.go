package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memtopo/internal/logging"
)

// Config is the root configuration for the memtopo engine and CLI.
type Config struct {
	Logging     logging.Config    `koanf:"logging"`
	Store       StoreConfig       `koanf:"store"`
	Items       ItemStoreConfig   `koanf:"items"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
}

// StoreConfig configures the SQLite relation store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for testing.
	Path string `koanf:"path"`
}

// ItemStoreConfig configures the embedded chromem item store.
type ItemStoreConfig struct {
	// Path is the persistence directory for the vector database.
	Path string `koanf:"path"`

	// Collection is the collection holding memory items.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimension. All incoming embeddings must
	// match; mismatches are rejected, never truncated or padded.
	VectorSize int `koanf:"vector_size"`

	// Compress enables gzip compression of persisted vectors.
	Compress bool `koanf:"compress"`
}

// MaintenanceConfig configures the periodic sweep runner.
type MaintenanceConfig struct {
	// Interval between maintenance sweeps. Decay assumes roughly daily runs.
	Interval time.Duration `koanf:"interval"`

	// SweepTimeout bounds a single sweep.
	SweepTimeout time.Duration `koanf:"sweep_timeout"`

	// BulkAssignLimit is the max items auto-assigned to quadrants per sweep.
	BulkAssignLimit int `koanf:"bulk_assign_limit"`

	// ClusterCount is the target cluster count for the clustering heuristic.
	ClusterCount int `koanf:"cluster_count"`

	// MinClusterSize is the smallest group the clustering heuristic keeps.
	MinClusterSize int `koanf:"min_cluster_size"`
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if c.Items.VectorSize <= 0 {
		return fmt.Errorf("items.vector_size must be positive, got %d", c.Items.VectorSize)
	}
	if c.Items.Collection == "" {
		return fmt.Errorf("items.collection cannot be empty")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive, got %s", c.Maintenance.Interval)
	}
	if c.Maintenance.SweepTimeout <= 0 {
		return fmt.Errorf("maintenance.sweep_timeout must be positive, got %s", c.Maintenance.SweepTimeout)
	}
	if c.Maintenance.ClusterCount <= 0 {
		return fmt.Errorf("maintenance.cluster_count must be positive, got %d", c.Maintenance.ClusterCount)
	}
	if c.Maintenance.MinClusterSize <= 0 {
		return fmt.Errorf("maintenance.min_cluster_size must be positive, got %d", c.Maintenance.MinClusterSize)
	}
	return nil
}
