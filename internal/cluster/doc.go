// Package cluster maintains soft-membership semantic clusters: a memory
// may belong to several clusters at once, each with a raw-similarity
// membership score.
//
// The bundled clustering routine is deliberately a single-pass heuristic,
// not iterative k-means. Seeds are a random sample of unclustered items,
// every item is assigned once, and undersized groups are discarded with
// their members left unclustered. The random source is injectable so tests
// can fix the seed.
package cluster
