// Package engine wires the organization components into one explicit
// scope handle. A scope is constructed once per tenant and passed to
// callers; nothing is looked up ambiently.
package engine

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/cluster"
	"github.com/fyrsmithlabs/memtopo/internal/hotpath"
	"github.com/fyrsmithlabs/memtopo/internal/itemstore"
	"github.com/fyrsmithlabs/memtopo/internal/logging"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
	"github.com/fyrsmithlabs/memtopo/internal/spatial"
	"github.com/fyrsmithlabs/memtopo/internal/tracker"
)

// Engine is a fully wired organization scope over one pair of stores.
type Engine struct {
	Tracker   *tracker.Tracker
	Detector  *hotpath.Detector
	Predictor *hotpath.Predictor
	Quadrants *spatial.Organizer
	Clusters  *cluster.Organizer

	rel    relstore.Store
	items  itemstore.Store
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	clusterOpts []cluster.Option
}

// WithClusterRand fixes the clustering random source, for tests.
func WithClusterRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.clusterOpts = append(o.clusterOpts, cluster.WithRand(rng))
	}
}

// New wires an Engine over the given stores. The stores' lifetimes are
// owned by the engine from here on; Close releases both.
func New(rel relstore.Store, items itemstore.Store, logger *zap.Logger, opts ...Option) *Engine {
	logger = logging.OrNop(logger)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	detector := hotpath.NewDetector(rel, items, logger.Named("hotpath"))

	return &Engine{
		Tracker:   tracker.New(rel, detector, logger.Named("tracker")),
		Detector:  detector,
		Predictor: hotpath.NewPredictor(rel, detector, logger.Named("predictor")),
		Quadrants: spatial.NewOrganizer(rel, items, logger.Named("spatial")),
		Clusters:  cluster.NewOrganizer(rel, items, logger.Named("cluster"), o.clusterOpts...),
		rel:       rel,
		items:     items,
		logger:    logger,
	}
}

// RelationStore exposes the underlying relation store.
func (e *Engine) RelationStore() relstore.Store { return e.rel }

// ItemStore exposes the underlying item store.
func (e *Engine) ItemStore() itemstore.Store { return e.items }

// Close releases both underlying stores.
func (e *Engine) Close() error {
	itemErr := e.items.Close()
	relErr := e.rel.Close()
	if relErr != nil {
		return relErr
	}
	return itemErr
}
