package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/maintenance"
)

var (
	maintainDaemon  bool
	predictLimit    int
	candidatesLimit int
	assignLimit     int
	clusterCount    int
	clusterMinSize  int
)

func init() {
	maintainCmd.Flags().BoolVar(&maintainDaemon, "daemon", false, "keep running sweeps on the configured interval")
	predictCmd.Flags().IntVar(&predictLimit, "limit", 5, "max predictions to return")
	candidatesCmd.Flags().IntVar(&candidatesLimit, "limit", 10, "max cache candidates to return")
	assignCmd.Flags().IntVar(&assignLimit, "limit", 0, "max items to assign (0 uses the configured limit)")
	clusterCmd.Flags().IntVar(&clusterCount, "clusters", 0, "target cluster count (0 uses the configured count)")
	clusterCmd.Flags().IntVar(&clusterMinSize, "min-size", 0, "smallest group to keep (0 uses the configured size)")
}

// maintainCmd runs the full maintenance cycle.
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run all maintenance sweeps",
	Long: `Run the decay, prune, bulk-assign, recentroid, and clustering sweeps
once, or keep running them on the configured interval with --daemon.`,
	RunE: runMaintain,
}

// decayCmd runs only the heat decay sweep.
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Decay hot path heat scores for idle time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			updated, err := env.engine.Detector.DecayHeatScores(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("decayed %d hot paths\n", updated)
			return nil
		})
	},
}

// pruneCmd deletes cold hot paths.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete hot paths whose heat has decayed to the floor",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			pruned, err := env.engine.Detector.PruneColdPaths(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d hot paths\n", pruned)
			return nil
		})
	},
}

// clusterCmd runs one clustering pass over unclustered items.
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run the single-pass clustering heuristic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			count := clusterCount
			if count <= 0 {
				count = env.cfg.Maintenance.ClusterCount
			}
			minSize := clusterMinSize
			if minSize <= 0 {
				minSize = env.cfg.Maintenance.MinClusterSize
			}

			created, err := env.engine.Clusters.RunSimpleClustering(cmd.Context(), count, minSize)
			if err != nil {
				return err
			}
			fmt.Printf("created %d clusters\n", len(created))
			for _, id := range created {
				fmt.Println(id)
			}
			return nil
		})
	},
}

// assignCmd bulk-assigns unassigned items to quadrants.
var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign unassigned items to their nearest quadrant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			limit := assignLimit
			if limit <= 0 {
				limit = env.cfg.Maintenance.BulkAssignLimit
			}

			assigned, err := env.engine.Quadrants.BulkAssign(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("assigned %d items\n", assigned)
			return nil
		})
	},
}

// bootstrapCmd creates the default quadrant regions.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the default quadrant regions if none exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			if err := env.engine.Quadrants.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			quadrants, err := env.engine.Quadrants.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d quadrants present\n", len(quadrants))
			return nil
		})
	},
}

// predictCmd prints likely next accesses for an item.
var predictCmd = &cobra.Command{
	Use:   "predict <memory-id>",
	Short: "Predict likely next accesses from transition statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			predictions, err := env.engine.Predictor.PredictNext(cmd.Context(), args[0], predictLimit)
			if err != nil {
				return err
			}
			return printJSON(predictions)
		})
	},
}

// candidatesCmd prints hot paths eligible for caching.
var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List uncached hot paths eligible for caching",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEngine(cmd, func(env *cliEnv) error {
			candidates, err := env.engine.Detector.IdentifyCacheCandidates(cmd.Context(), candidatesLimit)
			if err != nil {
				return err
			}
			return printJSON(candidates)
		})
	},
}

func runMaintain(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(env *cliEnv) error {
		runner := maintenance.NewRunner(env.engine, env.cfg.Maintenance, env.logger.Named("maintenance"))

		if !maintainDaemon {
			return runner.RunOnce(cmd.Context())
		}

		// Daemon mode: one immediate run, then the interval loop until a
		// signal arrives.
		if err := runner.RunOnce(cmd.Context()); err != nil {
			env.logger.Error("initial maintenance run failed", zap.Error(err))
		}
		runner.Start()
		defer runner.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			env.logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-cmd.Context().Done():
		}
		return nil
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
