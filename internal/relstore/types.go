package relstore

import (
	"context"
	"errors"
	"time"
)

// Common errors for relation store operations.
var (
	ErrEmptyMemoryID   = errors.New("memory ID cannot be empty")
	ErrEmptyQuadrantID = errors.New("quadrant ID cannot be empty")
	ErrEmptyClusterID  = errors.New("cluster ID cannot be empty")
	ErrEmptyPathHash   = errors.New("path hash cannot be empty")
	ErrDuplicateCode   = errors.New("quadrant code already exists")
)

// AssignmentMethod records how an assignment was made.
type AssignmentMethod string

const (
	// AssignmentAuto marks assignments made by nearest-centroid lookup.
	AssignmentAuto AssignmentMethod = "auto"

	// AssignmentManual marks assignments made by an explicit caller decision.
	AssignmentManual AssignmentMethod = "manual"
)

// ClusterType categorizes how a cluster groups its members.
type ClusterType string

const (
	ClusterSemantic ClusterType = "semantic"
	ClusterTemporal ClusterType = "temporal"
	ClusterTagBased ClusterType = "tag_based"
	ClusterManual   ClusterType = "manual"
)

// ValidClusterType reports whether t is a known cluster type.
func ValidClusterType(t ClusterType) bool {
	switch t {
	case ClusterSemantic, ClusterTemporal, ClusterTagBased, ClusterManual:
		return true
	}
	return false
}

// Rect is an optional 2-D bounding box for a quadrant.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Point is an optional 2-D position for an assignment.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quadrant is a capacity-bounded, optionally hierarchical semantic region.
//
// MemberCount always equals the number of live assignment rows referencing
// the quadrant; it is maintained incrementally by the store's assignment
// triggers. Quadrants are created explicitly and never auto-deleted.
type Quadrant struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Centroid    []float32 `json:"centroid,omitempty"`
	Bounds      *Rect     `json:"bounds,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Depth       int       `json:"depth"`
	MemberCount int       `json:"member_count"`
	Capacity    int       `json:"capacity"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuadrantAssignment links a memory to a quadrant.
//
// A memory holds at most one assignment per quadrant (the upsert key), but
// the schema does not prevent assignment to multiple quadrants; each
// (memory, quadrant) pair is treated independently.
type QuadrantAssignment struct {
	MemoryID           string           `json:"memory_id"`
	QuadrantID         string           `json:"quadrant_id"`
	Position           *Point           `json:"position,omitempty"`
	DistanceToCentroid float64          `json:"distance_to_centroid"`
	Method             AssignmentMethod `json:"method"`
	AssignedAt         time.Time        `json:"assigned_at"`
}

// Cluster is a soft-membership semantic grouping around a centroid.
type Cluster struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Type        ClusterType `json:"type"`
	Centroid    []float32   `json:"centroid,omitempty"`
	MemberCount int         `json:"member_count"`

	// CoherenceScore and SilhouetteScore are optional quality scores.
	CoherenceScore  *float64 `json:"coherence_score,omitempty"`
	SilhouetteScore *float64 `json:"silhouette_score,omitempty"`

	TopTags   []string  `json:"top_tags,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Stable    bool      `json:"stable"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClusterAssignment links a memory to a cluster with soft membership.
//
// MembershipScore is the raw cosine similarity to the cluster centroid at
// assignment time. It is not normalized and not guaranteed non-negative.
type ClusterAssignment struct {
	MemoryID           string    `json:"memory_id"`
	ClusterID          string    `json:"cluster_id"`
	MembershipScore    float64   `json:"membership_score"`
	DistanceToCentroid float64   `json:"distance_to_centroid"`
	AssignedAt         time.Time `json:"assigned_at"`
}

// AccessTransition is one observed consecutive access pair.
//
// Count only grows. AvgSecondsBetween is a running average over the time
// samples seen for this pair. Self-transitions are never recorded.
type AccessTransition struct {
	FromID            string    `json:"from_id"`
	ToID              string    `json:"to_id"`
	Count             int64     `json:"count"`
	AvgSecondsBetween float64   `json:"avg_seconds_between"`
	LastTransitionAt  time.Time `json:"last_transition_at"`
	SessionID         string    `json:"session_id,omitempty"`
}

// HotPath is a persisted, frequently observed ordered access sequence.
//
// PathHash is a stable order-sensitive hash of MemoryIDs and the primary
// key. Heat grows on repeat observation and decays over idle time.
type HotPath struct {
	PathHash       string     `json:"path_hash"`
	MemoryIDs      []string   `json:"memory_ids"`
	Name           string     `json:"name,omitempty"`
	AccessCount    int64      `json:"access_count"`
	HeatScore      float64    `json:"heat_score"`
	PeakHeatScore  float64    `json:"peak_heat_score"`
	IsCached       bool       `json:"is_cached"`
	CachedAt       *time.Time `json:"cached_at,omitempty"`
	CacheHits      int64      `json:"cache_hits"`
	DominantTags   []string   `json:"dominant_tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

// Store is the relation persistence collaborator consumed by the engine.
//
// Lookups on unknown entities return (nil, nil), never an error. Persistence
// failures propagate unchanged; the engine performs no internal retry.
type Store interface {
	// IncrementTransition upserts a transition pair. New pairs start at
	// count 1 with the sample as the initial average; existing pairs
	// increment count and fold the sample into the running average using
	// the pre-increment count.
	IncrementTransition(ctx context.Context, from, to string, sampleSeconds float64, sessionID string) error

	// TransitionsFrom returns outgoing transitions ordered by count descending.
	TransitionsFrom(ctx context.Context, from string) ([]AccessTransition, error)

	// TransitionCount returns the count for a pair, 0 when unobserved.
	TransitionCount(ctx context.Context, from, to string) (int64, error)

	// UpsertHotPath inserts a new hot path (accessCount 1, heat 1.0) or
	// bumps an existing one (+1 access, +0.5 heat capped at 100, peak
	// tracked). Returns true when the path was newly created.
	UpsertHotPath(ctx context.Context, path *HotPath) (bool, error)

	// GetHotPath returns a hot path by hash, nil when absent.
	GetHotPath(ctx context.Context, hash string) (*HotPath, error)

	// MarkCached flags a path as cached as of now.
	MarkCached(ctx context.Context, hash string) error

	// IncrementCacheHits bumps the cache hit counter for a path.
	IncrementCacheHits(ctx context.Context, hash string) error

	// ListDecayable returns paths with heat above the floor, for the decay sweep.
	ListDecayable(ctx context.Context, floor float64) ([]HotPath, error)

	// SetHeat overwrites a path's heat score.
	SetHeat(ctx context.Context, hash string, heat float64) error

	// PruneHotPaths deletes paths with heat at or below minHeat and
	// returns the number removed.
	PruneHotPaths(ctx context.Context, minHeat float64) (int64, error)

	// ListUncachedAbove returns uncached paths with heat strictly above
	// minHeat and access count at least minAccess, heat descending.
	ListUncachedAbove(ctx context.Context, minHeat float64, minAccess int64, limit int) ([]HotPath, error)

	// ListPathsByFirstID returns paths whose sequence starts with the given
	// id, heat descending.
	ListPathsByFirstID(ctx context.Context, firstID string, limit int) ([]HotPath, error)

	// CreateQuadrant inserts a new quadrant. Codes are unique.
	CreateQuadrant(ctx context.Context, q *Quadrant) error

	// GetQuadrant returns a quadrant by id, nil when absent.
	GetQuadrant(ctx context.Context, id string) (*Quadrant, error)

	// ListQuadrants returns all quadrants.
	ListQuadrants(ctx context.Context) ([]Quadrant, error)

	// UpsertQuadrantAssignment upserts an assignment keyed by
	// (memory, quadrant). Member counts are maintained by triggers.
	UpsertQuadrantAssignment(ctx context.Context, a *QuadrantAssignment) error

	// DeleteQuadrantAssignment removes an assignment if present.
	DeleteQuadrantAssignment(ctx context.Context, memoryID, quadrantID string) error

	// QuadrantAssignmentsFor returns all assignments held by a memory.
	QuadrantAssignmentsFor(ctx context.Context, memoryID string) ([]QuadrantAssignment, error)

	// AssignedMemoryIDs returns the distinct memory ids holding at least
	// one quadrant assignment.
	AssignedMemoryIDs(ctx context.Context) ([]string, error)

	// CreateCluster inserts a new cluster.
	CreateCluster(ctx context.Context, c *Cluster) error

	// GetCluster returns a cluster by id, nil when absent.
	GetCluster(ctx context.Context, id string) (*Cluster, error)

	// ListClusters returns all clusters.
	ListClusters(ctx context.Context) ([]Cluster, error)

	// SetClusterCentroid overwrites a cluster's centroid.
	SetClusterCentroid(ctx context.Context, id string, centroid []float32) error

	// SetClusterLabel overwrites a cluster's name and top tags.
	SetClusterLabel(ctx context.Context, id, name string, topTags []string) error

	// UpsertClusterAssignment upserts an assignment keyed by
	// (memory, cluster). Member counts are maintained by triggers.
	UpsertClusterAssignment(ctx context.Context, a *ClusterAssignment) error

	// ClusterMembers returns assignments for a cluster.
	ClusterMembers(ctx context.Context, clusterID string) ([]ClusterAssignment, error)

	// ClusteredMemoryIDs returns the distinct memory ids holding at least
	// one cluster assignment.
	ClusteredMemoryIDs(ctx context.Context) ([]string, error)

	// Close releases the underlying database handle.
	Close() error
}
