// Package vring provides a consistent-hashing ring of virtual partitions.
//
// A ring divides a digest hash space into a fixed number of equal intervals ("vnodes") and
// assigns each interval to a named node ("pnode"). Keys are hashed and routed to the vnode
// whose interval their digest falls into, so a key lookup is a single division rather than
// a search, and reassigning a vnode to another pnode moves exactly one interval of keys.
//
// Each vnode may carry an opaque payload which travels with it across reassignment.
//
// A ring is backed by one of two interchangeable stores: a volatile in-memory store, or a
// persisted store laid out in an embedded ordered key-value database where every mutation
// is committed as one atomic batch write. Both present identical behaviour, and a ring can
// be serialized to a topology document and rehydrated into either.
//
// A ring instance provides no internal locking. Callers must serialize mutating calls, and
// a persisted store location must only be opened by one ring at a time.
package vring
