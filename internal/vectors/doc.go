// Package vectors provides the embedding-distance primitives shared by the
// spatial and cluster organizers.
//
// Similarity is cosine; distance is 1 - similarity. Centroids are element-wise
// means. Dimension mismatches fail fast rather than truncating or padding.
package vectors
