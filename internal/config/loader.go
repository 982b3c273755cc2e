package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "MEMTOPO_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables. If configPath is empty the default path
// ~/.config/memtopo/config.yaml is used; a missing file is not an error.
//
// Environment variables use the MEMTOPO_ prefix with an underscore separator:
//
//	MEMTOPO_LOGGING_LEVEL       -> logging.level
//	MEMTOPO_STORE_PATH          -> store.path
//	MEMTOPO_ITEMS_VECTOR_SIZE   -> items.vector_size
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "memtopo", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment overrides: MEMTOPO_SECTION_FIELD_NAME -> section.field_name.
	// Split on the first underscore after the prefix only, so field names keep
	// their underscores (vector_size, min_cluster_size).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/memtopo/relations.db"
	}

	if cfg.Items.Path == "" {
		cfg.Items.Path = "~/.config/memtopo/items"
	}
	if cfg.Items.Collection == "" {
		cfg.Items.Collection = "memtopo_items"
	}
	if cfg.Items.VectorSize == 0 {
		cfg.Items.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}

	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = 24 * time.Hour
	}
	if cfg.Maintenance.SweepTimeout == 0 {
		cfg.Maintenance.SweepTimeout = 10 * time.Minute
	}
	if cfg.Maintenance.BulkAssignLimit == 0 {
		cfg.Maintenance.BulkAssignLimit = 100
	}
	if cfg.Maintenance.ClusterCount == 0 {
		cfg.Maintenance.ClusterCount = 10
	}
	if cfg.Maintenance.MinClusterSize == 0 {
		cfg.Maintenance.MinClusterSize = 5
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
