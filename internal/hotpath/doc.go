// Package hotpath promotes recurring access sequences into persisted hot
// paths and predicts likely next accesses from transition statistics.
//
// A buffered sequence is promoted once its weakest adjacent transition
// link has been observed enough times. Promoted paths accumulate heat on
// repeat observation, decay exponentially while idle, and are pruned once
// heat falls below a negligible floor. The caching-promotion thresholds
// are load-bearing constants, not tunables.
package hotpath
