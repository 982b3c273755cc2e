package relstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenSQLite_FileBackedUsesWAL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "relations.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var mode string
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	// The store is usable on a real file, not just in memory.
	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 1.0, ""))
	count, err := store.TransitionCount(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIncrementTransition_RunningAverage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 10.0, "s1"))
	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 20.0, "s1"))
	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 30.0, "s2"))

	transitions, err := store.TransitionsFrom(ctx, "a")
	require.NoError(t, err)
	require.Len(t, transitions, 1)

	assert.Equal(t, int64(3), transitions[0].Count)
	assert.InDelta(t, 20.0, transitions[0].AvgSecondsBetween, 1e-9)
	assert.Equal(t, "s2", transitions[0].SessionID)
}

func TestIncrementTransition_AnonymousKeepsSessionID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 1.0, "s1"))

	// An increment without a session id must not erase the recorded one.
	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 1.0, ""))

	transitions, err := store.TransitionsFrom(ctx, "a")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "s1", transitions[0].SessionID)

	// A later named session still takes over.
	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 1.0, "s2"))
	transitions, err = store.TransitionsFrom(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "s2", transitions[0].SessionID)
}

func TestIncrementTransition_RejectsSelfAndEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.IncrementTransition(ctx, "a", "a", 1.0, ""))
	assert.ErrorIs(t, store.IncrementTransition(ctx, "", "b", 1.0, ""), ErrEmptyMemoryID)
	assert.ErrorIs(t, store.IncrementTransition(ctx, "a", "", 1.0, ""), ErrEmptyMemoryID)
}

func TestTransitionsFrom_OrderedByCount(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementTransition(ctx, "a", "b", 1.0, ""))
	require.NoError(t, store.IncrementTransition(ctx, "a", "c", 1.0, ""))
	require.NoError(t, store.IncrementTransition(ctx, "a", "c", 1.0, ""))

	transitions, err := store.TransitionsFrom(ctx, "a")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "c", transitions[0].ToID)
	assert.Equal(t, "b", transitions[1].ToID)

	count, err := store.TransitionCount(ctx, "a", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.TransitionCount(ctx, "x", "y")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsertHotPath_CreateThenBump(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	path := &HotPath{
		PathHash:     "hash1",
		MemoryIDs:    []string{"a", "b", "c"},
		Name:         "go, testing",
		DominantTags: []string{"go", "testing"},
	}

	created, err := store.UpsertHotPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.UpsertHotPath(ctx, path)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetHotPath(ctx, "hash1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"a", "b", "c"}, got.MemoryIDs)
	assert.Equal(t, int64(2), got.AccessCount)
	assert.InDelta(t, 1.5, got.HeatScore, 1e-9)
	assert.InDelta(t, 1.5, got.PeakHeatScore, 1e-9)
	assert.Equal(t, []string{"go", "testing"}, got.DominantTags)
	assert.False(t, got.IsCached)
}

func TestUpsertHotPath_HeatCapAndPeak(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	path := &HotPath{PathHash: "hash-cap", MemoryIDs: []string{"a", "b", "c"}}
	_, err := store.UpsertHotPath(ctx, path)
	require.NoError(t, err)

	// Push heat near the cap, then bump past it.
	require.NoError(t, store.SetHeat(ctx, "hash-cap", 99.8))
	_, err = store.UpsertHotPath(ctx, path)
	require.NoError(t, err)

	got, err := store.GetHotPath(ctx, "hash-cap")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.HeatScore, 1e-9)
	assert.InDelta(t, 100.0, got.PeakHeatScore, 1e-9)

	// Peak survives a later decay.
	require.NoError(t, store.SetHeat(ctx, "hash-cap", 40.0))
	got, err = store.GetHotPath(ctx, "hash-cap")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, got.HeatScore, 1e-9)
	assert.InDelta(t, 100.0, got.PeakHeatScore, 1e-9)
}

func TestGetHotPath_AbsentReturnsNil(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	got, err := store.GetHotPath(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkCachedAndCacheHits(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	path := &HotPath{PathHash: "hash-cache", MemoryIDs: []string{"a", "b", "c"}}
	_, err := store.UpsertHotPath(ctx, path)
	require.NoError(t, err)

	require.NoError(t, store.MarkCached(ctx, "hash-cache"))
	require.NoError(t, store.IncrementCacheHits(ctx, "hash-cache"))
	require.NoError(t, store.IncrementCacheHits(ctx, "hash-cache"))

	got, err := store.GetHotPath(ctx, "hash-cache")
	require.NoError(t, err)
	assert.True(t, got.IsCached)
	require.NotNil(t, got.CachedAt)
	assert.Equal(t, int64(2), got.CacheHits)
}

func TestPruneHotPaths(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for _, hash := range []string{"p1", "p2", "p3"} {
		_, err := store.UpsertHotPath(ctx, &HotPath{PathHash: hash, MemoryIDs: []string{"a", "b", "c"}})
		require.NoError(t, err)
	}
	require.NoError(t, store.SetHeat(ctx, "p1", 0.005))
	require.NoError(t, store.SetHeat(ctx, "p2", 0.01))

	pruned, err := store.PruneHotPaths(ctx, 0.01)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	got, err := store.GetHotPath(ctx, "p3")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestListUncachedAbove(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	hot := &HotPath{PathHash: "hot", MemoryIDs: []string{"a", "b", "c"}}
	for i := 0; i < 6; i++ {
		_, err := store.UpsertHotPath(ctx, hot)
		require.NoError(t, err)
	}
	// 6 accesses, heat 3.5: qualifies.

	warm := &HotPath{PathHash: "warm", MemoryIDs: []string{"d", "e", "f"}}
	for i := 0; i < 4; i++ {
		_, err := store.UpsertHotPath(ctx, warm)
		require.NoError(t, err)
	}
	// 4 accesses, heat 2.5: fails the access threshold.

	candidates, err := store.ListUncachedAbove(ctx, 2.0, 5, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "hot", candidates[0].PathHash)

	// Cached paths drop out.
	require.NoError(t, store.MarkCached(ctx, "hot"))
	candidates, err = store.ListUncachedAbove(ctx, 2.0, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestListPathsByFirstID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertHotPath(ctx, &HotPath{PathHash: "s1", MemoryIDs: []string{"a", "b", "c"}})
	require.NoError(t, err)
	_, err = store.UpsertHotPath(ctx, &HotPath{PathHash: "s2", MemoryIDs: []string{"a", "x", "y"}})
	require.NoError(t, err)
	_, err = store.UpsertHotPath(ctx, &HotPath{PathHash: "s3", MemoryIDs: []string{"z", "a", "b"}})
	require.NoError(t, err)
	require.NoError(t, store.SetHeat(ctx, "s2", 9.0))

	paths, err := store.ListPathsByFirstID(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "s2", paths[0].PathHash)
	assert.Equal(t, "s1", paths[1].PathHash)
}

func TestQuadrantLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	q := &Quadrant{
		ID:       "q1",
		Code:     "NE",
		Centroid: []float32{0.1, 0.2, 0.3},
		Bounds:   &Rect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1},
		Capacity: 1000,
		Tags:     []string{"work"},
	}
	require.NoError(t, store.CreateQuadrant(ctx, q))

	// Duplicate code is rejected.
	dup := &Quadrant{ID: "q2", Code: "NE", Capacity: 10}
	assert.ErrorIs(t, store.CreateQuadrant(ctx, dup), ErrDuplicateCode)

	got, err := store.GetQuadrant(ctx, "q1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "NE", got.Code)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Centroid)
	require.NotNil(t, got.Bounds)
	assert.Equal(t, 1.0, got.Bounds.MaxX)
	assert.Equal(t, 1000, got.Capacity)
	assert.Zero(t, got.MemberCount)

	missing, err := store.GetQuadrant(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQuadrantAssignments_MemberCountTriggers(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateQuadrant(ctx, &Quadrant{ID: "q1", Code: "NW", Capacity: 10}))

	a := &QuadrantAssignment{MemoryID: "m1", QuadrantID: "q1", DistanceToCentroid: 0.2, Method: AssignmentAuto}
	require.NoError(t, store.UpsertQuadrantAssignment(ctx, a))
	require.NoError(t, store.UpsertQuadrantAssignment(ctx, &QuadrantAssignment{
		MemoryID: "m2", QuadrantID: "q1", Method: AssignmentManual,
	}))

	got, err := store.GetQuadrant(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	// Re-upserting the same pair must not double-count.
	a.DistanceToCentroid = 0.1
	require.NoError(t, store.UpsertQuadrantAssignment(ctx, a))
	got, err = store.GetQuadrant(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	assignments, err := store.QuadrantAssignmentsFor(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.InDelta(t, 0.1, assignments[0].DistanceToCentroid, 1e-9)

	ids, err := store.AssignedMemoryIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)

	require.NoError(t, store.DeleteQuadrantAssignment(ctx, "m1", "q1"))
	got, err = store.GetQuadrant(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MemberCount)
}

func TestClusterLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	c := &Cluster{
		ID:       "c1",
		Name:     "untitled",
		Type:     ClusterSemantic,
		Centroid: []float32{0.5, 0.5},
	}
	require.NoError(t, store.CreateCluster(ctx, c))

	bad := &Cluster{ID: "c2", Type: ClusterType("vibes")}
	assert.Error(t, store.CreateCluster(ctx, bad))

	require.NoError(t, store.SetClusterCentroid(ctx, "c1", []float32{0.4, 0.6}))
	require.NoError(t, store.SetClusterLabel(ctx, "c1", "go, testing, sqlite", []string{"go", "testing", "sqlite"}))

	got, err := store.GetCluster(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{0.4, 0.6}, got.Centroid)
	assert.Equal(t, "go, testing, sqlite", got.Name)
	assert.Equal(t, []string{"go", "testing", "sqlite"}, got.TopTags)

	clusters, err := store.ListClusters(ctx)
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

func TestClusterAssignments_MemberCountTriggers(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCluster(ctx, &Cluster{ID: "c1", Type: ClusterSemantic}))

	require.NoError(t, store.UpsertClusterAssignment(ctx, &ClusterAssignment{
		MemoryID: "m1", ClusterID: "c1", MembershipScore: 0.9,
	}))
	require.NoError(t, store.UpsertClusterAssignment(ctx, &ClusterAssignment{
		MemoryID: "m2", ClusterID: "c1", MembershipScore: 0.7,
	}))
	// Same pair again; counts stay put, score updates.
	require.NoError(t, store.UpsertClusterAssignment(ctx, &ClusterAssignment{
		MemoryID: "m1", ClusterID: "c1", MembershipScore: 0.95,
	}))

	got, err := store.GetCluster(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MemberCount)

	members, err := store.ClusterMembers(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, members, 2)

	scores := map[string]float64{}
	for _, m := range members {
		scores[m.MemoryID] = m.MembershipScore
	}
	assert.InDelta(t, 0.95, scores["m1"], 1e-9)
	assert.InDelta(t, 0.7, scores["m2"], 1e-9)

	ids, err := store.ClusteredMemoryIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
}

func TestVectorRoundTrip(t *testing.T) {
	t.Parallel()

	vec := []float32{-1.5, 0, 0.25, 3.75}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}
