package spatial

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/metrics"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
	"github.com/fyrsmithlabs/memtopo/internal/vectors"
)

// DefaultCapacity applies when a quadrant is created without one.
const DefaultCapacity = 1000

// Common errors for quadrant operations.
var (
	ErrEmptyCode       = errors.New("quadrant code cannot be empty")
	ErrUnknownParent   = errors.New("parent quadrant does not exist")
	ErrUnknownQuadrant = errors.New("quadrant does not exist")
)

// CreateOptions describes a quadrant to create.
type CreateOptions struct {
	Code     string
	Centroid []float32
	Bounds   *relstore.Rect
	ParentID string
	Capacity int
	Tags     []string
}

// CapacityReport is the advisory result of a capacity check.
type CapacityReport struct {
	QuadrantID  string `json:"quadrant_id"`
	MemberCount int    `json:"member_count"`
	Capacity    int    `json:"capacity"`
	NeedsSplit  bool   `json:"needs_split"`
}

// Organizer manages quadrants and their item assignments.
type Organizer struct {
	rel    relstore.Store
	items  itemstore.Store
	logger *zap.Logger
}

// NewOrganizer creates a quadrant Organizer over the given stores.
func NewOrganizer(rel relstore.Store, items itemstore.Store, logger *zap.Logger) *Organizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Organizer{rel: rel, items: items, logger: logger}
}

// Create creates a quadrant. Depth derives from the parent when one is
// given; capacity defaults when unset.
func (o *Organizer) Create(ctx context.Context, opts CreateOptions) (*relstore.Quadrant, error) {
	if opts.Code == "" {
		return nil, ErrEmptyCode
	}

	depth := 0
	if opts.ParentID != "" {
		parent, err := o.rel.GetQuadrant(ctx, opts.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, opts.ParentID)
		}
		depth = parent.Depth + 1
	}

	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	q := &relstore.Quadrant{
		ID:       uuid.NewString(),
		Code:     opts.Code,
		Centroid: opts.Centroid,
		Bounds:   opts.Bounds,
		ParentID: opts.ParentID,
		Depth:    depth,
		Capacity: capacity,
		Tags:     opts.Tags,
	}
	if err := o.rel.CreateQuadrant(ctx, q); err != nil {
		return nil, err
	}

	o.logger.Info("quadrant created",
		zap.String("quadrant_id", q.ID),
		zap.String("code", q.Code),
		zap.Int("depth", q.Depth))
	return q, nil
}

// Get returns a quadrant by id, nil when absent.
func (o *Organizer) Get(ctx context.Context, id string) (*relstore.Quadrant, error) {
	return o.rel.GetQuadrant(ctx, id)
}

// List returns all quadrants.
func (o *Organizer) List(ctx context.Context) ([]relstore.Quadrant, error) {
	return o.rel.ListQuadrants(ctx)
}

// FindBestFor returns the quadrant with minimum cosine distance to the
// embedding, considering only quadrants with a centroid. Returns nil when
// no quadrant has one.
func (o *Organizer) FindBestFor(ctx context.Context, embedding []float32) (*relstore.Quadrant, error) {
	quadrants, err := o.rel.ListQuadrants(ctx)
	if err != nil {
		return nil, err
	}

	var best *relstore.Quadrant
	bestDistance := 0.0
	for i := range quadrants {
		q := &quadrants[i]
		if len(q.Centroid) == 0 {
			continue
		}
		distance, err := vectors.CosineDistance(embedding, q.Centroid)
		if err != nil {
			return nil, fmt.Errorf("comparing against quadrant %s: %w", q.Code, err)
		}
		if best == nil || distance < bestDistance {
			best = q
			bestDistance = distance
		}
	}
	return best, nil
}

// AutoAssign places a memory into its nearest quadrant. Returns nil when
// no quadrant has a centroid to compare against.
func (o *Organizer) AutoAssign(ctx context.Context, memoryID string, embedding []float32) (*relstore.QuadrantAssignment, error) {
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

	distance, err := vectors.CosineDistance(embedding, best.Centroid)
	if err != nil {
		return nil, err
	}

	assignment := &relstore.QuadrantAssignment{
		MemoryID:           memoryID,
		QuadrantID:         best.ID,
		DistanceToCentroid: distance,
		Method:             relstore.AssignmentAuto,
	}
	if err := o.rel.UpsertQuadrantAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	metrics.Assignments.WithLabelValues("quadrant").Inc()
	o.logger.Debug("memory assigned to quadrant",
		zap.String("memory_id", memoryID),
		zap.String("quadrant_code", best.Code),
		zap.Float64("distance", distance))
	return assignment, nil
}

// CheckCapacity reports whether a quadrant has overflowed. Overflow means
// member count strictly exceeds capacity; at-capacity does not trigger.
func (o *Organizer) CheckCapacity(ctx context.Context, id string) (CapacityReport, error) {
	q, err := o.rel.GetQuadrant(ctx, id)
	if err != nil {
		return CapacityReport{}, err
	}
	if q == nil {
		return CapacityReport{}, fmt.Errorf("%w: %s", ErrUnknownQuadrant, id)
	}

	return CapacityReport{
		QuadrantID:  q.ID,
		MemberCount: q.MemberCount,
		Capacity:    q.Capacity,
		NeedsSplit:  q.MemberCount > q.Capacity,
	}, nil
}

// BulkAssign auto-assigns up to limit items that hold no quadrant
// assignment yet and returns the number assigned.
func (o *Organizer) BulkAssign(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	assignedIDs, err := o.rel.AssignedMemoryIDs(ctx)
	if err != nil {
		return 0, err
	}
	assigned := make(map[string]bool, len(assignedIDs))
	for _, id := range assignedIDs {
		assigned[id] = true
	}

	items, err := o.items.ListItems(ctx, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range items {
		if count >= limit {
			break
		}
		if assigned[item.ID] || len(item.Embedding) == 0 {
			continue
		}

		assignment, err := o.AutoAssign(ctx, item.ID, item.Embedding)
		if err != nil {
			return count, fmt.Errorf("bulk assigning %s: %w", item.ID, err)
		}
		if assignment != nil {
			count++
		} else {
			// No quadrant has a centroid; nothing further can assign.
			break
		}
	}

	o.logger.Info("bulk assignment complete", zap.Int("assigned", count))
	return count, nil
}

// Unassign removes one (memory, quadrant) assignment.
func (o *Organizer) Unassign(ctx context.Context, memoryID, quadrantID string) error {
	return o.rel.DeleteQuadrantAssignment(ctx, memoryID, quadrantID)
}

// AssignmentsFor returns the quadrant assignments held by a memory. The
// schema permits several; each pair is independent.
func (o *Organizer) AssignmentsFor(ctx context.Context, memoryID string) ([]relstore.QuadrantAssignment, error) {
	return o.rel.QuadrantAssignmentsFor(ctx, memoryID)
}

// Bootstrap creates the four default root regions when no quadrants exist
// yet. Bootstrapped regions carry bounds but no centroid; centroids come
// later from observed data.
func (o *Organizer) Bootstrap(ctx context.Context) error {
	existing, err := o.rel.ListQuadrants(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := []struct {
		code   string
		bounds relstore.Rect
	}{
		{"NW", relstore.Rect{MinX: 0, MinY: 0.5, MaxX: 0.5, MaxY: 1}},
		{"NE", relstore.Rect{MinX: 0.5, MinY: 0.5, MaxX: 1, MaxY: 1}},
		{"SW", relstore.Rect{MinX: 0, MinY: 0, MaxX: 0.5, MaxY: 0.5}},
		{"SE", relstore.Rect{MinX: 0.5, MinY: 0, MaxX: 1, MaxY: 0.5}},
	}
	for _, def := range defaults {
		bounds := def.bounds
		if _, err := o.Create(ctx, CreateOptions{Code: def.code, Bounds: &bounds}); err != nil {
			return fmt.Errorf("bootstrapping quadrant %s: %w", def.code, err)
		}
	}

	o.logger.Info("default quadrants bootstrapped", zap.Int("count", len(defaults)))
	return nil
}
