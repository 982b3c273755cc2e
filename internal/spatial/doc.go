// Package spatial assigns items to capacity-bounded, optionally
// hierarchical semantic regions (quadrants) by nearest-centroid lookup.
//
// Capacity checking is advisory only. An over-capacity quadrant is
// reported, never split; member counts are maintained by the relation
// store's assignment triggers and never recomputed by scanning.
package spatial
