package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/hotpath"
	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
	"github.com/fyrsmithlabs/memtopo/internal/spatial"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	rel, err := relstore.OpenSQLite(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)

	eng := New(rel, itemstore.NewMemoryStore(3), zap.NewNop())
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// End to end: replaying one sequence through the tracker promotes a hot
// path that the predictor then prefetches from.
func TestEngine_AccessToPredictionFlow(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	seq := []string{"A", "B", "C", "D"}
	for i := 0; i < 3; i++ {
		sid := eng.Tracker.StartSession("")
		for _, id := range seq {
			require.NoError(t, eng.Tracker.RecordAccess(ctx, sid, id))
		}
		require.NoError(t, eng.Tracker.EndSession(ctx, sid))
	}

	path, err := eng.RelationStore().GetHotPath(ctx, hotpath.PathHash(seq))
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, seq, path.MemoryIDs)
	assert.Equal(t, int64(1), path.AccessCount)

	predictions, err := eng.Predictor.PredictNext(ctx, "A", 3)
	require.NoError(t, err)
	require.NotEmpty(t, predictions)
	assert.Equal(t, "B", predictions[0].MemoryID)
	assert.InDelta(t, 1.0, predictions[0].Probability, 1e-9)

	suffix, matched, err := eng.Predictor.CheckAndPrefetch(ctx, []string{"A", "B"})
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, []string{"C", "D"}, suffix)
}

func TestEngine_OrganizersShareStores(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.ItemStore().PutItems(ctx, []itemstore.Item{
		{ID: "m1", Embedding: []float32{1, 0, 0}},
	}))

	_, err := eng.Quadrants.Create(ctx, spatial.CreateOptions{
		Code:     "east",
		Centroid: []float32{1, 0, 0},
	})
	require.NoError(t, err)

	assignment, err := eng.Quadrants.AutoAssign(ctx, "m1", []float32{1, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, assignment)

	quadrants, err := eng.Quadrants.List(ctx)
	require.NoError(t, err)
	require.Len(t, quadrants, 1)
	assert.Equal(t, 1, quadrants[0].MemberCount)
}
