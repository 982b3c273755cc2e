// Package metrics exposes Prometheus metrics for the organization engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessesRecorded counts item accesses recorded by the tracker.
	AccessesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "tracker",
			Name:      "accesses_recorded_total",
			Help:      "Total item accesses recorded across all sessions",
		},
	)

	// TransitionsRecorded counts pairwise access transitions persisted.
	TransitionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "tracker",
			Name:      "transitions_recorded_total",
			Help:      "Total access transitions upserted",
		},
	)

	// BufferFlushes counts hot-path evaluations triggered by buffer flushes.
	// Labels: trigger (threshold, session_end)
	BufferFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "tracker",
			Name:      "buffer_flushes_total",
			Help:      "Total hot-path evaluations triggered by buffer flushes",
		},
		[]string{"trigger"},
	)

	// HotPathEvents counts hot-path lifecycle events.
	// Labels: event (promoted, bumped, cached, pruned)
	HotPathEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "hotpath",
			Name:      "events_total",
			Help:      "Total hot-path lifecycle events by type",
		},
		[]string{"event"},
	)

	// CacheHits counts cache hits recorded against hot paths.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "hotpath",
			Name:      "cache_hits_total",
			Help:      "Total cache hits recorded against hot paths",
		},
	)

	// Predictions counts next-item prediction requests.
	// Labels: result (hit, empty)
	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "predictor",
			Name:      "predictions_total",
			Help:      "Total next-item prediction requests",
		},
		[]string{"result"},
	)

	// Assignments counts quadrant and cluster assignment upserts.
	// Labels: kind (quadrant, cluster)
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memtopo",
			Subsystem: "organizer",
			Name:      "assignments_total",
			Help:      "Total quadrant and cluster assignment upserts",
		},
		[]string{"kind"},
	)

	// SweepDuration tracks maintenance sweep durations.
	// Labels: sweep (decay, prune, bulk_assign, recentroid, clustering)
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memtopo",
			Subsystem: "maintenance",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of maintenance sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)
)
