package maintenance

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/config"
	"github.com/fyrsmithlabs/memtopo/internal/engine"
	"github.com/fyrsmithlabs/memtopo/internal/hotpath"
	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
	"github.com/fyrsmithlabs/memtopo/internal/spatial"
)

func newTestRunner(t *testing.T) (*Runner, *engine.Engine) {
	t.Helper()

	rel, err := relstore.OpenSQLite(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)

	eng := engine.New(rel, itemstore.NewMemoryStore(3), zap.NewNop(),
		engine.WithClusterRand(rand.New(rand.NewSource(42))))
	t.Cleanup(func() { _ = eng.Close() })

	cfg := config.MaintenanceConfig{
		Interval:        time.Hour,
		SweepTimeout:    time.Minute,
		BulkAssignLimit: 100,
		ClusterCount:    2,
		MinClusterSize:  3,
	}
	return NewRunner(eng, cfg, zap.NewNop()), eng
}

func TestRunOnce_AllSweeps(t *testing.T) {
	t.Parallel()
	runner, eng := newTestRunner(t)
	ctx := context.Background()

	// A quadrant with a centroid, unassigned items, and a prunable path.
	_, err := eng.Quadrants.Create(ctx, spatial.CreateOptions{
		Code:     "east",
		Centroid: []float32{1, 0, 0},
	})
	require.NoError(t, err)

	var items []itemstore.Item
	for i := 0; i < 6; i++ {
		items = append(items, itemstore.Item{
			ID:        fmt.Sprintf("m%d", i),
			Embedding: []float32{1, float32(i) * 0.01, 0},
		})
	}
	require.NoError(t, eng.ItemStore().PutItems(ctx, items))

	_, err = eng.Detector.CreateOrBumpHotPath(ctx, []string{"x", "y", "z"}, "")
	require.NoError(t, err)
	coldHash := hotpath.PathHash([]string{"x", "y", "z"})
	require.NoError(t, eng.RelationStore().SetHeat(ctx, coldHash, 0.005))

	require.NoError(t, runner.RunOnce(ctx))

	// The cold path was pruned.
	pruned, err := eng.RelationStore().GetHotPath(ctx, coldHash)
	require.NoError(t, err)
	assert.Nil(t, pruned)

	// Bulk assignment filled the quadrant.
	quadrants, err := eng.Quadrants.List(ctx)
	require.NoError(t, err)
	require.Len(t, quadrants, 1)
	assert.Equal(t, 6, quadrants[0].MemberCount)

	// Clustering grouped the items.
	clusters, err := eng.Clusters.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, clusters)
	for _, c := range clusters {
		assert.GreaterOrEqual(t, c.MemberCount, 3)
	}
}

func TestRunOnce_Idempotent(t *testing.T) {
	t.Parallel()
	runner, eng := newTestRunner(t)
	ctx := context.Background()

	require.NoError(t, runner.RunOnce(ctx))
	require.NoError(t, runner.RunOnce(ctx))

	clusters, err := eng.Clusters.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	runner, _ := newTestRunner(t)

	runner.Start()
	runner.Start() // second start is a no-op

	runner.Stop()
	runner.Stop() // second stop is a no-op
}
