package hotpath

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/metrics"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
)

const defaultPathLimit = 5

// Prediction is a ranked next-access candidate.
type Prediction struct {
	MemoryID    string  `json:"memory_id"`
	Count       int64   `json:"count"`
	Probability float64 `json:"probability"`
}

// Predictor ranks likely next accesses from transition statistics and
// matches live sequences against known hot paths.
type Predictor struct {
	rel      relstore.Store
	detector *Detector
	logger   *zap.Logger
}

// NewPredictor creates a Predictor. The detector is used to record cache
// hits on matched paths.
func NewPredictor(rel relstore.Store, detector *Detector, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{rel: rel, detector: detector, logger: logger}
}

// PredictNext returns the top next-access candidates from currentID with
// their probabilities. An id with no outgoing transitions yields an empty
// result, never an error.
func (p *Predictor) PredictNext(ctx context.Context, currentID string, limit int) ([]Prediction, error) {
	transitions, err := p.rel.TransitionsFrom(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("reading transitions: %w", err)
	}
	if len(transitions) == 0 {
		metrics.Predictions.WithLabelValues("empty").Inc()
		return nil, nil
	}

	var total int64
	for _, t := range transitions {
		total += t.Count
	}

	if limit > 0 && limit < len(transitions) {
		transitions = transitions[:limit]
	}

	out := make([]Prediction, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, Prediction{
			MemoryID:    t.ToID,
			Count:       t.Count,
			Probability: float64(t.Count) / float64(total),
		})
	}

	metrics.Predictions.WithLabelValues("hit").Inc()
	return out, nil
}

// CheckAndPrefetch matches the live sequence against hot paths whose id
// prefix equals it exactly and which extend past it. Among matches the
// hottest path wins; a cache hit is recorded on it and the remaining items
// are returned for prefetching. Sequences shorter than two entries never
// match.
func (p *Predictor) CheckAndPrefetch(ctx context.Context, sequence []string) ([]string, *relstore.HotPath, error) {
	if len(sequence) < 2 {
		return nil, nil, nil
	}

	paths, err := p.rel.ListPathsByFirstID(ctx, sequence[0], 0)
	if err != nil {
		return nil, nil, fmt.Errorf("listing candidate paths: %w", err)
	}

	// Paths come back heat descending, so the first prefix match is the
	// hottest one.
	for i := range paths {
		path := &paths[i]
		if len(path.MemoryIDs) <= len(sequence) {
			continue
		}
		if !hasPrefix(path.MemoryIDs, sequence) {
			continue
		}

		if err := p.detector.RecordCacheHit(ctx, path.PathHash); err != nil {
			return nil, nil, err
		}
		suffix := append([]string(nil), path.MemoryIDs[len(sequence):]...)

		p.logger.Debug("prefetch match",
			zap.String("path_hash", path.PathHash),
			zap.Int("prefetched", len(suffix)))
		return suffix, path, nil
	}
	return nil, nil, nil
}

// FindPathsStartingWith returns hot paths whose first element is id, heat
// descending. limit <= 0 defaults to 5.
func (p *Predictor) FindPathsStartingWith(ctx context.Context, id string, limit int) ([]relstore.HotPath, error) {
	if limit <= 0 {
		limit = defaultPathLimit
	}
	return p.rel.ListPathsByFirstID(ctx, id, limit)
}

func hasPrefix(ids, prefix []string) bool {
	for i, id := range prefix {
		if ids[i] != id {
			return false
		}
	}
	return true
}
