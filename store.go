package vring

import "context"

// Payload is the opaque value a vnode can carry. The zero value is the
// reserved "no payload" sentinel and is distinct from any value a
// caller can attach, including the empty string.
type Payload struct {
	Value string
	Have  bool
}

// PayloadOf returns an attached payload holding value.
func PayloadOf(value string) Payload {
	return Payload{Value: value, Have: true}
}

// Assignment is the result of a key lookup: the vnode the key's digest
// falls into, the pnode owning it and whatever payload it carries.
type Assignment struct {
	Pnode   string
	Vnode   int
	Payload Payload
}

// Store is the topology model shared by both backends: bidirectional
// pnode/vnode ownership plus per-vnode payloads. The ring engine does
// all validation; a Store only ever sees mutations that have already
// been accepted, and each mutating call must be atomic on its own.
//
// Enumerations are returned sorted so that both backends answer
// identically for the same topology.
type Store interface {
	// Algorithm returns the digest algorithm the ring was built with.
	Algorithm(ctx context.Context) (Algorithm, error)

	// VnodeCount returns the fixed number of vnodes.
	VnodeCount(ctx context.Context) (int, error)

	// Owner returns the pnode owning vnode v.
	Owner(ctx context.Context, v int) (string, error)

	// Payload returns the payload attached to vnode v, or the sentinel.
	Payload(ctx context.Context, v int) (Payload, error)

	// Vnodes returns the vnodes owned by pnode, or ErrPnodeNotFound.
	Vnodes(ctx context.Context, pnode string) ([]int, error)

	// Pnodes returns all pnode names.
	Pnodes(ctx context.Context) ([]string, error)

	// SetPayload attaches p to vnode v, overwriting any previous value.
	SetPayload(ctx context.Context, v int, p Payload) error

	// Remap moves vnode v to pnode, carrying its payload over and
	// creating pnode if it has never been seen. The old owner keeps
	// its identity even when left empty.
	Remap(ctx context.Context, pnode string, v int) error

	// RemovePnode drops an empty pnode's identity.
	RemovePnode(ctx context.Context, pnode string) error

	// Close releases the underlying store handle.
	Close() error
}
