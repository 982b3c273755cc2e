// Package itemstore provides read/write access to the semantic items the
// organization engine arranges: their content, tags, and embeddings.
//
// The engine never produces embeddings itself. Items arrive with embeddings
// already attached, and the store only persists and retrieves them. The
// chromem-go implementation keeps everything embedded and file-backed; the
// in-memory implementation backs tests.
package itemstore
