// Package tracker records the sequence of items touched within a session
// and derives pairwise access transitions from it.
//
// Each session holds a small in-memory buffer of recent accesses. When the
// buffer reaches its flush size the buffered sequence is handed to the hot
// path evaluator and the buffer is trimmed to its tail, preserving
// continuity across flushes. Session state is owned by a single logical
// caller; concurrent mutation of the same session id must be serialized by
// the caller.
package tracker
