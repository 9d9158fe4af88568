// Package wire implements the codec (C1) that renders an arbitrary value
// reachable from a root object into a self-describing intermediate
// representation, then encodes that IR to bytes for transport between
// processes of the same program.
//
// IR nodes are one of: primitive, ordered sequence, keyed mapping, set,
// typed instance (a struct's exported fields), reference-by-id (for
// cycles), or Reconnector descriptor — a placeholder for a live resource
// that cannot be transferred and must instead be rebuilt on the other
// side (see package reconnect).
//
// Encode and Decode each build fresh, unshared state per call: there is no
// package-level mutable cycle table or class cache, so concurrent callers
// never contend or interfere with each other.
package wire
