// Package batchrecv implements a single primitive: receive as many values as
// possible from a channel, within a minimum/maximum size window and a
// partial-result timeout.
//
// pool's UnorderedIMap iterator uses this to drain a worker pool's result
// channel in opportunistic batches, rather than blocking for one result at a
// time.
package batchrecv
