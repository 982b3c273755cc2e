package hotpath

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/metrics"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
)

const (
	// minSequenceLen is the shortest sequence eligible for promotion.
	minSequenceLen = 3

	// promotionThreshold is the minimum count the weakest adjacent
	// transition link must reach before a sequence becomes a hot path.
	promotionThreshold = 3

	// decayRate is the per-idle-day heat multiplier.
	decayRate = 0.95

	// pruneFloor is the heat at or below which a path is deleted.
	pruneFloor = 0.01

	// cacheMinHeat and cacheMinAccess gate cache candidacy. Heat must
	// strictly exceed the former; access count must reach the latter.
	cacheMinHeat   = 2.0
	cacheMinAccess = 5

	maxDominantTags = 5
	nameTagCount    = 3
)

// Detector evaluates buffered sequences and manages the hot path lifecycle.
type Detector struct {
	rel    relstore.Store
	items  itemstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorClock overrides the time source, for tests.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector over the given stores.
func NewDetector(rel relstore.Store, items itemstore.Store, logger *zap.Logger, opts ...DetectorOption) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{rel: rel, items: items, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EvaluateBuffer checks a buffered sequence against the promotion rule.
//
// Sequences shorter than three entries are ignored. A sequence whose hash
// already names a hot path bumps that path. Otherwise the sequence is
// promoted only when the minimum adjacent-pair transition count reaches
// the promotion threshold.
func (d *Detector) EvaluateBuffer(ctx context.Context, ids []string) error {
	if len(ids) < minSequenceLen {
		return nil
	}

	hash := PathHash(ids)
	existing, err := d.rel.GetHotPath(ctx, hash)
	if err != nil {
		return fmt.Errorf("looking up hot path: %w", err)
	}
	if existing != nil {
		_, err := d.CreateOrBumpHotPath(ctx, ids, existing.Name)
		return err
	}

	frequency, err := d.minLinkCount(ctx, ids)
	if err != nil {
		return err
	}
	if frequency < promotionThreshold {
		return nil
	}

	d.logger.Info("promoting sequence to hot path",
		zap.String("path_hash", hash),
		zap.Int("sequence_len", len(ids)),
		zap.Int64("min_link_count", frequency))

	_, err = d.CreateOrBumpHotPath(ctx, ids, "")
	return err
}

// minLinkCount returns the minimum transition count over adjacent pairs.
func (d *Detector) minLinkCount(ctx context.Context, ids []string) (int64, error) {
	min := int64(math.MaxInt64)
	for i := 0; i < len(ids)-1; i++ {
		count, err := d.rel.TransitionCount(ctx, ids[i], ids[i+1])
		if err != nil {
			return 0, fmt.Errorf("reading transition count: %w", err)
		}
		if count < min {
			min = count
		}
	}
	return min, nil
}

// CreateOrBumpHotPath upserts the hot path for a sequence. New paths start
// at access count 1 and heat 1.0; existing paths gain one access and half
// a point of heat, capped at 100. Returns true when the path was created.
func (d *Detector) CreateOrBumpHotPath(ctx context.Context, ids []string, name string) (bool, error) {
	tags, err := d.dominantTags(ctx, ids)
	if err != nil {
		return false, err
	}
	if name == "" {
		name = d.defaultName(tags)
	}

	created, err := d.rel.UpsertHotPath(ctx, &relstore.HotPath{
		PathHash:     PathHash(ids),
		MemoryIDs:    ids,
		Name:         name,
		DominantTags: tags,
	})
	if err != nil {
		return false, err
	}

	if created {
		metrics.HotPathEvents.WithLabelValues("promoted").Inc()
	} else {
		metrics.HotPathEvents.WithLabelValues("bumped").Inc()
	}
	return created, nil
}

// dominantTags returns up to five member tags by descending frequency.
func (d *Detector) dominantTags(ctx context.Context, ids []string) ([]string, error) {
	items, err := d.items.ItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reading member items: %w", err)
	}
	return topTags(items, maxDominantTags), nil
}

func (d *Detector) defaultName(tags []string) string {
	if len(tags) == 0 {
		return "path-" + d.now().UTC().Format("20060102T150405")
	}
	n := nameTagCount
	if len(tags) < n {
		n = len(tags)
	}
	return strings.Join(tags[:n], ", ")
}

// topTags counts tag occurrences across items and returns the most
// frequent, ties broken alphabetically for stable output.
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

// CachePath marks a path as cached.
func (d *Detector) CachePath(ctx context.Context, hash string) error {
	if err := d.rel.MarkCached(ctx, hash); err != nil {
		return err
	}
	metrics.HotPathEvents.WithLabelValues("cached").Inc()
	return nil
}

// RecordCacheHit bumps a path's cache hit counter, which is independent of
// its access count.
func (d *Detector) RecordCacheHit(ctx context.Context, hash string) error {
	if err := d.rel.IncrementCacheHits(ctx, hash); err != nil {
		return err
	}
	metrics.CacheHits.Inc()
	return nil
}

// DecayHeatScores multiplies every warm path's heat by 0.95 per idle day
// and returns the number of paths updated. Each path is an independent
// update, so an interrupted sweep is resumable.
func (d *Detector) DecayHeatScores(ctx context.Context) (int, error) {
	paths, err := d.rel.ListDecayable(ctx, pruneFloor)
	if err != nil {
		return 0, fmt.Errorf("listing decayable paths: %w", err)
	}

	now := d.now()
	updated := 0
	for _, path := range paths {
		last := path.LastAccessedAt
		if last.IsZero() {
			last = path.CreatedAt
		}
		idleDays := now.Sub(last).Hours() / 24
		if idleDays <= 0 {
			continue
		}

		decayed := path.HeatScore * math.Pow(decayRate, idleDays)
		if err := d.rel.SetHeat(ctx, path.PathHash, decayed); err != nil {
			return updated, fmt.Errorf("decaying path %s: %w", path.PathHash, err)
		}
		updated++
	}

	d.logger.Debug("heat decay sweep complete", zap.Int("updated", updated))
	return updated, nil
}

// PruneColdPaths deletes paths whose heat has fallen to the floor and
// returns the number removed.
func (d *Detector) PruneColdPaths(ctx context.Context) (int64, error) {
	pruned, err := d.rel.PruneHotPaths(ctx, pruneFloor)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		metrics.HotPathEvents.WithLabelValues("pruned").Add(float64(pruned))
		d.logger.Info("pruned cold paths", zap.Int64("count", pruned))
	}
	return pruned, nil
}

// IdentifyCacheCandidates returns uncached paths hot and busy enough to
// cache, heat descending.
func (d *Detector) IdentifyCacheCandidates(ctx context.Context, limit int) ([]relstore.HotPath, error) {
	return d.rel.ListUncachedAbove(ctx, cacheMinHeat, cacheMinAccess, limit)
}
