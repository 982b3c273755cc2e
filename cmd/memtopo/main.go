// Package main implements the memtopo CLI for operating the spatial and
// hot-path organization engine: maintenance sweeps, clustering runs, and
// ad-hoc queries against the stores.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/memtopo/internal/config"
	"github.com/fyrsmithlabs/memtopo/internal/engine"
	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/logging"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"

	"go.uber.org/zap"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memtopo",
	Short: "Spatial and hot-path organization engine operations",
	Long: `memtopo operates the organization engine for a semantic knowledge
store: quadrant and cluster assignment, hot-path maintenance, and
next-access prediction.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/memtopo/config.yaml)")
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(candidatesCmd)
}

// cliEnv bundles everything a subcommand needs once the stores are open.
type cliEnv struct {
	engine *engine.Engine
	cfg    *config.Config
	logger *zap.Logger
}

// withEngine loads configuration, wires an engine, runs fn, and tears
// everything down afterwards.
func withEngine(cmd *cobra.Command, fn func(*cliEnv) error) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	storePath, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		return err
	}
	itemsPath, err := config.ExpandPath(cfg.Items.Path)
	if err != nil {
		return err
	}
	if storePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
			return fmt.Errorf("creating store directory: %w", err)
		}
	}

	rel, err := relstore.OpenSQLite(cmd.Context(), storePath, logger.Named("relstore"))
	if err != nil {
		return err
	}

	items, err := itemstore.OpenChromem(itemsPath, cfg.Items.Collection, cfg.Items.VectorSize, cfg.Items.Compress, logger.Named("itemstore"))
	if err != nil {
		_ = rel.Close()
		return err
	}

	eng := engine.New(rel, items, logger)
	defer func() { _ = eng.Close() }()

	return fn(&cliEnv{engine: eng, cfg: cfg, logger: logger})
}
