package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/metrics"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
	"github.com/fyrsmithlabs/memtopo/internal/vectors"
)

const (
	// DefaultNumClusters and DefaultMinClusterSize apply when the
	// clustering routine is called without explicit values.
	DefaultNumClusters    = 10
	DefaultMinClusterSize = 5

	// clusteringFetchLimit caps how many unclustered items one clustering
	// run considers.
	clusteringFetchLimit = 1000

	maxTopTags   = 5
	nameTagCount = 3
)

// ErrUnknownCluster reports an operation against a cluster that does not exist.
var ErrUnknownCluster = errors.New("cluster does not exist")

// CreateOptions describes a cluster to create.
type CreateOptions struct {
	Name        string
	Description string
	Type        relstore.ClusterType
	Centroid    []float32
	ParentID    string
}

// Match is a nearest-centroid lookup result.
type Match struct {
	Cluster    *relstore.Cluster
	Similarity float64
}

// Organizer manages clusters and their soft memberships.
type Organizer struct {
	rel    relstore.Store
	items  itemstore.Store
	logger *zap.Logger
	rng    *rand.Rand
}

// Option configures an Organizer.
type Option func(*Organizer)

// WithRand overrides the random source used to seed clustering runs, so
// tests can make runs deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(o *Organizer) { o.rng = rng }
}

// NewOrganizer creates a cluster Organizer over the given stores.
func NewOrganizer(rel relstore.Store, items itemstore.Store, logger *zap.Logger, opts ...Option) *Organizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Organizer{
		rel:    rel,
		items:  items,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create creates a cluster. Type defaults to semantic.
func (o *Organizer) Create(ctx context.Context, opts CreateOptions) (*relstore.Cluster, error) {
	clusterType := opts.Type
	if clusterType == "" {
		clusterType = relstore.ClusterSemantic
	}

	c := &relstore.Cluster{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		Description: opts.Description,
		Type:        clusterType,
		Centroid:    opts.Centroid,
		ParentID:    opts.ParentID,
	}
	if err := o.rel.CreateCluster(ctx, c); err != nil {
		return nil, err
	}

	o.logger.Info("cluster created",
		zap.String("cluster_id", c.ID),
		zap.String("type", string(c.Type)))
	return c, nil
}

// Get returns a cluster by id, nil when absent.
func (o *Organizer) Get(ctx context.Context, id string) (*relstore.Cluster, error) {
	return o.rel.GetCluster(ctx, id)
}

// List returns all clusters.
func (o *Organizer) List(ctx context.Context) ([]relstore.Cluster, error) {
	return o.rel.ListClusters(ctx)
}

// FindBestFor returns the cluster whose centroid is most cosine-similar to
// the embedding, with the raw similarity. Returns nil when no cluster has
// a centroid.
func (o *Organizer) FindBestFor(ctx context.Context, embedding []float32) (*Match, error) {
	clusters, err := o.rel.ListClusters(ctx)
	if err != nil {
		return nil, err
	}

	var best *Match
	for i := range clusters {
		c := &clusters[i]
		if len(c.Centroid) == 0 {
			continue
		}
		similarity, err := vectors.CosineSimilarity(embedding, c.Centroid)
		if err != nil {
			return nil, fmt.Errorf("comparing against cluster %s: %w", c.ID, err)
		}
		if best == nil || similarity > best.Similarity {
			best = &Match{Cluster: c, Similarity: similarity}
		}
	}
	return best, nil
}

// AutoAssign adds a memory to its most similar cluster with the raw
// similarity as membership score. Returns nil when no cluster has a
// centroid. Existing memberships in other clusters are untouched.
func (o *Organizer) AutoAssign(ctx context.Context, memoryID string, embedding []float32) (*relstore.ClusterAssignment, error) {
	if memoryID == "" {
		return nil, relstore.ErrEmptyMemoryID
	}

	best, err := o.FindBestFor(ctx, embedding)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, nil
	}

	assignment := &relstore.ClusterAssignment{
		MemoryID:           memoryID,
		ClusterID:          best.Cluster.ID,
		MembershipScore:    best.Similarity,
		DistanceToCentroid: 1 - best.Similarity,
	}
	if err := o.rel.UpsertClusterAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	metrics.Assignments.WithLabelValues("cluster").Inc()
	return assignment, nil
}

// RecomputeCentroid sets a cluster's centroid to the element-wise mean of
// its members' embeddings. A cluster with zero members (or none with
// embeddings) is left untouched; this is a no-op, not an error.
func (o *Organizer) RecomputeCentroid(ctx context.Context, id string) error {
	members, err := o.rel.ClusterMembers(ctx, id)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	embeddings := make([][]float32, 0, len(members))
	for _, m := range members {
		emb, err := o.items.EmbeddingOf(ctx, m.MemoryID)
		if err != nil {
			return err
		}
		if len(emb) > 0 {
			embeddings = append(embeddings, emb)
		}
	}
	if len(embeddings) == 0 {
		return nil
	}

	centroid, err := vectors.Centroid(embeddings)
	if err != nil {
		return err
	}
	return o.rel.SetClusterCentroid(ctx, id, centroid)
}

// AutoLabel derives a cluster's name and top tags from the most frequent
// tags among its members.
func (o *Organizer) AutoLabel(ctx context.Context, id string) error {
	c, err := o.rel.GetCluster(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCluster, id)
	}

	members, err := o.rel.ClusterMembers(ctx, id)
	if err != nil {
		return err
	}
	memberIDs := make([]string, len(members))
	for i, m := range members {
		memberIDs[i] = m.MemoryID
	}

	items, err := o.items.ItemsByIDs(ctx, memberIDs)
	if err != nil {
		return err
	}

	tags := topTags(items, maxTopTags)
	name := labelFromTags(tags, id)
	return o.rel.SetClusterLabel(ctx, id, name, tags)
}

// RunSimpleClustering groups unclustered items around randomly sampled
// seeds in a single pass and returns the ids of the clusters it persisted.
//
// Steps, in order: fetch up to 1000 unclustered items with embeddings,
// shuffle, take the first numClusters as seeds, assign every item to its
// most similar seed, discard groups smaller than minClusterSize (their
// members stay unclustered), then persist each surviving group with its
// true mean centroid and score members against that final centroid.
func (o *Organizer) RunSimpleClustering(ctx context.Context, numClusters, minClusterSize int) ([]string, error) {
	if numClusters <= 0 {
		numClusters = DefaultNumClusters
	}
	if minClusterSize <= 0 {
		minClusterSize = DefaultMinClusterSize
	}

	candidates, err := o.unclusteredItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	o.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	seedCount := numClusters
	if len(candidates) < seedCount {
		seedCount = len(candidates)
	}
	seeds := candidates[:seedCount]

	// One assignment pass against the seed embeddings.
	groups := make([][]itemstore.Item, seedCount)
	for _, item := range candidates {
		bestSeed := -1
		bestSim := 0.0
		for s, seed := range seeds {
			sim, err := vectors.CosineSimilarity(item.Embedding, seed.Embedding)
			if err != nil {
				return nil, err
			}
			if bestSeed < 0 || sim > bestSim {
				bestSeed = s
				bestSim = sim
			}
		}
		groups[bestSeed] = append(groups[bestSeed], item)
	}

	var created []string
	for _, group := range groups {
		if len(group) < minClusterSize {
			// Undersized groups are dropped whole; members stay
			// unclustered and are not retried or merged.
			continue
		}

		id, err := o.persistGroup(ctx, group)
		if err != nil {
			return created, err
		}
		created = append(created, id)
	}

	o.logger.Info("clustering run complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("clusters_created", len(created)))
	return created, nil
}

// unclusteredItems returns up to the fetch limit of items that have an
// embedding and no cluster membership.
func (o *Organizer) unclusteredItems(ctx context.Context) ([]itemstore.Item, error) {
	clusteredIDs, err := o.rel.ClusteredMemoryIDs(ctx)
	if err != nil {
		return nil, err
	}
	clustered := make(map[string]bool, len(clusteredIDs))
	for _, id := range clusteredIDs {
		clustered[id] = true
	}

	items, err := o.items.ListItems(ctx, 0)
	if err != nil {
		return nil, err
	}

	out := make([]itemstore.Item, 0, len(items))
	for _, item := range items {
		if clustered[item.ID] || len(item.Embedding) == 0 {
			continue
		}
		out = append(out, item)
		if len(out) >= clusteringFetchLimit {
			break
		}
	}
	return out, nil
}

// persistGroup stores one surviving group as a new cluster and assigns its
// members against the final centroid.
func (o *Organizer) persistGroup(ctx context.Context, group []itemstore.Item) (string, error) {
	embeddings := make([][]float32, len(group))
	for i, item := range group {
		embeddings[i] = item.Embedding
	}
	centroid, err := vectors.Centroid(embeddings)
	if err != nil {
		return "", err
	}

	tags := topTags(group, maxTopTags)
	id := uuid.NewString()

	c := &relstore.Cluster{
		ID:       id,
		Name:     labelFromTags(tags, id),
		Type:     relstore.ClusterSemantic,
		Centroid: centroid,
		TopTags:  tags,
	}
	if err := o.rel.CreateCluster(ctx, c); err != nil {
		return "", err
	}

	for _, item := range group {
		similarity, err := vectors.CosineSimilarity(item.Embedding, centroid)
		if err != nil {
			return id, err
		}
		err = o.rel.UpsertClusterAssignment(ctx, &relstore.ClusterAssignment{
			MemoryID:           item.ID,
			ClusterID:          id,
			MembershipScore:    similarity,
			DistanceToCentroid: 1 - similarity,
		})
		if err != nil {
			return id, err
		}
		metrics.Assignments.WithLabelValues("cluster").Inc()
	}
	return id, nil
}

// topTags counts tag occurrences across items and returns the most
// frequent, ties broken alphabetically.
func topTags(items []itemstore.Item, limit int) []string {
	counts := make(map[string]int)
	for _, item := range items {
		for _, tag := range item.Tags {
			counts[tag]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if limit < len(tags) {
		tags = tags[:limit]
	}
	return tags
}

// labelFromTags joins the top tags into a name, falling back to a
// placeholder derived from the cluster id.
func labelFromTags(tags []string, clusterID string) string {
	if len(tags) == 0 {
		if len(clusterID) > 8 {
			clusterID = clusterID[:8]
		}
		return "cluster-" + clusterID
	}
	n := nameTagCount
	if len(tags) < n {
		n = len(tags)
	}
	return strings.Join(tags[:n], ", ")
}
