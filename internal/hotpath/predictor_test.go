package hotpath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
)

func newTestPredictor(t *testing.T) (*Predictor, *Detector, *relstore.SQLiteStore) {
	t.Helper()

	rel, err := relstore.OpenSQLite(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rel.Close() })

	detector := NewDetector(rel, itemstore.NewMemoryStore(3), zap.NewNop())
	predictor := NewPredictor(rel, detector, zap.NewNop())
	return predictor, detector, rel
}

func TestPredictNext_Probabilities(t *testing.T) {
	t.Parallel()
	predictor, _, rel := newTestPredictor(t)
	ctx := context.Background()

	// A->B count 5, A->C count 3.
	for i := 0; i < 5; i++ {
		require.NoError(t, rel.IncrementTransition(ctx, "A", "B", 1.0, ""))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, rel.IncrementTransition(ctx, "A", "C", 1.0, ""))
	}

	predictions, err := predictor.PredictNext(ctx, "A", 2)
	require.NoError(t, err)
	require.Len(t, predictions, 2)

	assert.Equal(t, "B", predictions[0].MemoryID)
	assert.InDelta(t, 0.625, predictions[0].Probability, 1e-9)
	assert.Equal(t, "C", predictions[1].MemoryID)
	assert.InDelta(t, 0.375, predictions[1].Probability, 1e-9)
}

func TestPredictNext_LimitAppliesAfterTotal(t *testing.T) {
	t.Parallel()
	predictor, _, rel := newTestPredictor(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, rel.IncrementTransition(ctx, "A", "B", 1.0, ""))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, rel.IncrementTransition(ctx, "A", "C", 1.0, ""))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, rel.IncrementTransition(ctx, "A", "D", 1.0, ""))
	}

	// Truncation must not renormalize: probabilities stay over the full
	// outgoing total.
	predictions, err := predictor.PredictNext(ctx, "A", 1)
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, "B", predictions[0].MemoryID)
	assert.InDelta(t, 0.6, predictions[0].Probability, 1e-9)
}

func TestPredictNext_UnknownIDIsEmpty(t *testing.T) {
	t.Parallel()
	predictor, _, _ := newTestPredictor(t)

	predictions, err := predictor.PredictNext(context.Background(), "nope", 5)
	require.NoError(t, err)
	assert.Empty(t, predictions)
}

func TestCheckAndPrefetch_MatchesHottestPrefix(t *testing.T) {
	t.Parallel()
	predictor, detector, rel := newTestPredictor(t)
	ctx := context.Background()

	_, err := detector.CreateOrBumpHotPath(ctx, []string{"a", "b", "c", "d"}, "")
	require.NoError(t, err)
	_, err = detector.CreateOrBumpHotPath(ctx, []string{"a", "b", "x", "y", "z"}, "")
	require.NoError(t, err)
	require.NoError(t, rel.SetHeat(ctx, PathHash([]string{"a", "b", "x", "y", "z"}), 9.0))

	suffix, matched, err := predictor.CheckAndPrefetch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.NotNil(t, matched)

	assert.Equal(t, PathHash([]string{"a", "b", "x", "y", "z"}), matched.PathHash)
	assert.Equal(t, []string{"x", "y", "z"}, suffix)

	// The match recorded a cache hit.
	got, err := rel.GetHotPath(ctx, matched.PathHash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CacheHits)
}

func TestCheckAndPrefetch_NoMatchCases(t *testing.T) {
	t.Parallel()
	predictor, detector, _ := newTestPredictor(t)
	ctx := context.Background()

	_, err := detector.CreateOrBumpHotPath(ctx, []string{"a", "b", "c"}, "")
	require.NoError(t, err)

	// Too short to match.
	suffix, matched, err := predictor.CheckAndPrefetch(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Nil(t, matched)
	assert.Nil(t, suffix)

	// Equal length leaves nothing to prefetch.
	suffix, matched, err = predictor.CheckAndPrefetch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Nil(t, matched)
	assert.Nil(t, suffix)

	// Divergent prefix.
	suffix, matched, err = predictor.CheckAndPrefetch(ctx, []string{"a", "x"})
	require.NoError(t, err)
	assert.Nil(t, matched)
	assert.Nil(t, suffix)
}

func TestFindPathsStartingWith(t *testing.T) {
	t.Parallel()
	predictor, detector, rel := newTestPredictor(t)
	ctx := context.Background()

	_, err := detector.CreateOrBumpHotPath(ctx, []string{"a", "b", "c"}, "")
	require.NoError(t, err)
	_, err = detector.CreateOrBumpHotPath(ctx, []string{"a", "c", "d"}, "")
	require.NoError(t, err)
	_, err = detector.CreateOrBumpHotPath(ctx, []string{"b", "a", "c"}, "")
	require.NoError(t, err)
	require.NoError(t, rel.SetHeat(ctx, PathHash([]string{"a", "c", "d"}), 5.0))

	paths, err := predictor.FindPathsStartingWith(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, []string{"a", "c", "d"}, paths[0].MemoryIDs)
	assert.Equal(t, []string{"a", "b", "c"}, paths[1].MemoryIDs)
}
