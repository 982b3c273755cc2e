// Package relstore persists the relational side of the organization engine:
// access transitions, hot paths, quadrants, clusters, and their assignments.
//
// All writes are upserts keyed by natural keys (transition pair, path hash,
// (memory, quadrant), (memory, cluster)), so concurrent writers touching
// different keys never corrupt shared counters. Quadrant and cluster member
// counts are maintained by insert/delete triggers on the assignment tables
// and are never recomputed by scanning.
//
// The SQLite implementation uses modernc.org/sqlite with WAL journaling.
package relstore
