// Package pool implements a fixed-size worker pool (C7): a bounded set of
// persistent workers dispatching function calls or full process lifecycles,
// with ordered and unordered result retrieval, key-addressable lookup, and a
// PoolTaskError aggregate for batch failures.
//
// A Pool is a generalization of a single-shot batch processor to a
// long-lived, reusable set of workers: instead of grouping submissions into
// timed batches, each worker pulls one task at a time from a shared queue for
// the lifetime of the Pool.
//
// See also [github.com/ceetaro/suitkaise/batchrecv], used internally by
// UnorderedIMap to drain completed results in opportunistic batches.
package pool
