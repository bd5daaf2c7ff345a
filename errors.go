package vring

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Validation errors are returned before any mutation is staged.
var (
	ErrNoPnodes          = errors.New("at least one pnode is required", j.C("ERR_6f2a91c8d4e0b735"))
	ErrDuplicatePnode    = errors.New("duplicate pnode name", j.C("ERR_1d8e42a6f97c03b1"))
	ErrInvalidVnodeCount = errors.New("vnode count must be positive", j.C("ERR_90c4f7e12ab358d6"))
	ErrVnodeOutOfRange   = errors.New("vnode out of range", j.C("ERR_3be71a09c5d2f648"))
	ErrDuplicateVnode    = errors.New("duplicate vnode in remap request", j.C("ERR_c52d90b3e817fa64"))
	ErrAlreadyOwned      = errors.New("vnode already owned by target pnode", j.C("ERR_7a04e86d21c9b5f3"))
	ErrUnknownAlgorithm  = errors.New("unknown hash algorithm", j.C("ERR_e9135cb7d0a2468f"))
)

// State errors are returned when an operation conflicts with the
// current topology.
var (
	ErrPnodeNotFound = errors.New("pnode not found", j.C("ERR_48d1f3a92c7e06b5"))
	ErrPnodeNotEmpty = errors.New("pnode still owns vnodes", j.C("ERR_b6e03d571f9ca824"))
)

// ErrIncompatibleVersion is returned when a stored topology was written
// by a strictly newer engine than the one loading it.
var ErrIncompatibleVersion = errors.New("stored version newer than engine", j.C("ERR_2f7c8ae401d6b93e"))

// Storage errors.
var (
	// ErrNotFound is returned when a store key is absent. It is
	// distinct from I/O failures, which are wrapped as-is.
	ErrNotFound = errors.New("store key not found", j.C("ERR_d30b96f5a82e17c4"))

	// ErrIncompleteStore is returned when opening a persisted store
	// whose initial build never finished.
	ErrIncompleteStore = errors.New("store build incomplete", j.C("ERR_59a7d2c4e6f08b13"))

	// ErrStoreExists is returned when building a fresh ring over a
	// location that already holds a completed store.
	ErrStoreExists = errors.New("store already exists", j.C("ERR_84f0b1d73c29e5a6"))
)

// ErrCorruptTopology is returned when the vnode space is not a total,
// non-overlapping partition across pnodes. It is reported and never
// silently repaired.
var ErrCorruptTopology = errors.New("topology invariant violated", j.C("ERR_a1c59e24b7f3d086"))
