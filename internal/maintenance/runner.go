// Package maintenance runs the periodic sweeps that keep the organization
// state healthy: heat decay, cold-path pruning, bulk quadrant assignment,
// cluster centroid refresh, and the clustering run.
//
// Every sweep is a batch of independent upserts or deletes, so an
// interrupted run leaves nothing half-applied and the next run picks up
// where it left off. Sweeps never block concurrent access recording.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/config"
	"github.com/fyrsmithlabs/memtopo/internal/engine"
	"github.com/fyrsmithlabs/memtopo/internal/logging"
	"github.com/fyrsmithlabs/memtopo/internal/metrics"
)

// Runner executes maintenance sweeps on a fixed interval.
type Runner struct {
	engine *engine.Engine
	cfg    config.MaintenanceConfig
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRunner creates a Runner for the given engine.
func NewRunner(eng *engine.Engine, cfg config.MaintenanceConfig, logger *zap.Logger) *Runner {
	return &Runner{engine: eng, cfg: cfg, logger: logging.OrNop(logger)}
}

// Start launches the periodic loop. Calling Start on a running Runner is
// a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)
	r.logger.Info("maintenance runner started", zap.Duration("interval", r.cfg.Interval))
}

// Stop halts the loop and waits for any in-flight run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("maintenance runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.safeRun(ctx)
		}
	}
}

// safeRun executes one run, recovering from panics so a bad sweep cannot
// kill the loop.
func (r *Runner) safeRun(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("maintenance run panicked", zap.Any("panic", rec))
		}
	}()

	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("maintenance run failed", zap.Error(err))
	}
}

// RunOnce executes every sweep in order. The first failing sweep aborts
// the run; completed sweeps stay applied.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SweepTimeout)
		defer cancel()
	}

	sweeps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"decay", r.decay},
		{"prune", r.prune},
		{"bulk_assign", r.bulkAssign},
		{"recentroid", r.recentroid},
		{"clustering", r.clustering},
	}

	for _, sweep := range sweeps {
		start := time.Now()
		err := sweep.run(ctx)
		metrics.SweepDuration.WithLabelValues(sweep.name).Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("%s sweep: %w", sweep.name, err)
		}
	}
	return nil
}

func (r *Runner) decay(ctx context.Context) error {
	updated, err := r.engine.Detector.DecayHeatScores(ctx)
	if err != nil {
		return err
	}
	r.logger.Debug("decay sweep complete", zap.Int("updated", updated))
	return nil
}

func (r *Runner) prune(ctx context.Context) error {
	_, err := r.engine.Detector.PruneColdPaths(ctx)
	return err
}

func (r *Runner) bulkAssign(ctx context.Context) error {
	assigned, err := r.engine.Quadrants.BulkAssign(ctx, r.cfg.BulkAssignLimit)
	if err != nil {
		return err
	}
	r.logger.Debug("bulk assign sweep complete", zap.Int("assigned", assigned))
	return nil
}

// recentroid refreshes every cluster's centroid from its current members.
func (r *Runner) recentroid(ctx context.Context) error {
	clusters, err := r.engine.Clusters.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if err := r.engine.Clusters.RecomputeCentroid(ctx, c.ID); err != nil {
			return fmt.Errorf("recomputing centroid for %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r *Runner) clustering(ctx context.Context) error {
	created, err := r.engine.Clusters.RunSimpleClustering(ctx, r.cfg.ClusterCount, r.cfg.MinClusterSize)
	if err != nil {
		return err
	}
	if len(created) > 0 {
		r.logger.Info("clustering sweep created clusters", zap.Int("count", len(created)))
	}
	return nil
}
