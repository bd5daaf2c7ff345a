package vring

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Ring maps opaque keys onto a fixed pool of vnodes owned by named
// pnodes. A Ring is bound to exactly one backend and provides no
// internal locking: callers must not issue concurrent mutating calls
// against the same instance, since a mutation against the persisted
// backend is a sequence of point reads followed by one atomic batch
// write and those reads are not isolated from concurrent writers.
// Concurrent read-only lookups are safe on a quiesced ring.
type Ring struct {
	store   Store
	hs      hashspace
	backend string
	logger  logger
	watcher Watcher
}

// New builds a fresh ring: vnodes are assigned round-robin across the
// given pnodes and carry no payloads. The pnode names must be distinct.
// By default the ring is held in memory; pass WithDir to build it in a
// persisted store instead.
func New(ctx context.Context, pnodes []string, opts ...Option) (*Ring, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := validatePnodes(pnodes); err != nil {
		return nil, err
	}
	if o.vnodes <= 0 {
		return nil, errors.Wrap(ErrInvalidVnodeCount, "", j.KV("vnodes", o.vnodes))
	}
	algo, err := algorithmByName(o.algo.Name)
	if err != nil {
		return nil, err
	}
	o.algo = algo

	var store Store
	if o.dir != "" {
		owners := make([]string, o.vnodes)
		for v := range owners {
			owners[v] = pnodes[v%len(pnodes)]
		}
		store, err = createDiskStore(ctx, o.dir, o.algo, pnodes, owners, make([]Payload, o.vnodes))
		if err != nil {
			return nil, err
		}
	} else {
		store = newMemStore(o.algo, o.vnodes, pnodes)
	}

	r := newRing(store, o)
	r.logger.Debug(ctx, "built ring", j.MKV{
		"vnodes":  o.vnodes,
		"pnodes":  len(pnodes),
		"backend": r.backend,
	})
	return r, nil
}

// FromSnapshot rehydrates a ring from a serialized topology document,
// restoring the exact ownership mapping and payloads. A snapshot
// written by a strictly newer engine is rejected.
func FromSnapshot(ctx context.Context, data []byte, opts ...Option) (*Ring, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}

	var store Store
	if o.dir != "" {
		owners, payloads, err := snap.partition()
		if err != nil {
			return nil, err
		}
		pnodes := make([]string, 0, len(snap.Members))
		for pnode := range snap.Members {
			pnodes = append(pnodes, pnode)
		}
		store, err = createDiskStore(ctx, o.dir, snap.Algorithm, pnodes, owners, payloads)
		if err != nil {
			return nil, err
		}
	} else {
		store, err = memStoreFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
	}

	o.vnodes = snap.Vnodes
	o.algo = snap.Algorithm
	r := newRing(store, o)
	r.logger.Debug(ctx, "rehydrated ring", j.MKV{
		"vnodes":  snap.Vnodes,
		"backend": r.backend,
	})
	return r, nil
}

// Open binds a ring to an existing persisted store. It refuses stores
// whose initial build never completed and stores written by a strictly
// newer engine, and verifies the ownership partition before returning.
func Open(ctx context.Context, dir string, opts ...Option) (*Ring, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	store, err := openDiskStore(ctx, dir)
	if err != nil {
		return nil, err
	}
	o.vnodes, err = store.VnodeCount(ctx)
	if err != nil {
		return nil, err
	}
	o.algo, err = store.Algorithm(ctx)
	if err != nil {
		return nil, err
	}
	r := newRing(store, o)
	if err := r.Verify(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	r.logger.Debug(ctx, "opened ring", j.MKV{"dir": dir, "vnodes": o.vnodes})
	return r, nil
}

func newRing(store Store, o *options) *Ring {
	backend := "memory"
	if _, ok := store.(*diskStore); ok {
		backend = "disk"
	}
	return &Ring{
		store:   store,
		hs:      newHashspace(o.algo, o.vnodes),
		backend: backend,
		logger:  o.logger,
		watcher: o.watcher,
	}
}

func validatePnodes(pnodes []string) error {
	if len(pnodes) == 0 {
		return errors.Wrap(ErrNoPnodes, "")
	}
	seen := make(map[string]bool, len(pnodes))
	for _, pnode := range pnodes {
		if seen[pnode] {
			return errors.Wrap(ErrDuplicatePnode, "", j.KV("pnode", pnode))
		}
		seen[pnode] = true
	}
	return nil
}

// GetNode hashes key onto a vnode and returns that vnode's owning
// pnode and payload. Read-only and deterministic for a fixed topology.
func (r *Ring) GetNode(ctx context.Context, key string) (Assignment, error) {
	v := r.hs.locate(key)
	owner, err := r.store.Owner(ctx, v)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "lookup owner", j.KV("vnode", v))
	}
	p, err := r.store.Payload(ctx, v)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "lookup payload", j.KV("vnode", v))
	}
	lookupCounter.WithLabelValues(r.backend).Inc()
	r.watcher.OnLookup(key, v, owner)
	return Assignment{Pnode: owner, Vnode: v, Payload: p}, nil
}

// GetVnodes returns the sorted vnode ids owned by pnode.
func (r *Ring) GetVnodes(ctx context.Context, pnode string) ([]int, error) {
	return r.store.Vnodes(ctx, pnode)
}

// Pnodes returns the sorted names of all pnodes.
func (r *Ring) Pnodes(ctx context.Context) ([]string, error) {
	return r.store.Pnodes(ctx)
}

// SetPayload attaches payload to the vnode, overwriting any previous
// value.
func (r *Ring) SetPayload(ctx context.Context, vnode int, payload string) error {
	return r.setPayload(ctx, vnode, PayloadOf(payload))
}

// ClearPayload detaches the vnode's payload, restoring the "no
// payload" sentinel.
func (r *Ring) ClearPayload(ctx context.Context, vnode int) error {
	return r.setPayload(ctx, vnode, Payload{})
}

func (r *Ring) setPayload(ctx context.Context, vnode int, p Payload) error {
	if err := r.checkRange(vnode); err != nil {
		return err
	}
	return r.store.SetPayload(ctx, vnode, p)
}

// Remap moves the given vnodes to pnode, creating pnode if it has
// never been seen and carrying each vnode's payload over unchanged.
// The old owners keep their identity even when left empty.
//
// Vnodes are moved one at a time, each in its own atomic unit. On
// failure the first failing vnode's error is returned and vnodes
// earlier in the list may already have been moved. Callers that need
// all-or-nothing semantics must pre-validate the whole batch.
func (r *Ring) Remap(ctx context.Context, pnode string, vnodes ...int) error {
	seen := make(map[int]bool, len(vnodes))
	for _, v := range vnodes {
		if seen[v] {
			return errors.Wrap(ErrDuplicateVnode, "", j.KV("vnode", v))
		}
		seen[v] = true
	}

	for _, v := range vnodes {
		if err := r.checkRange(v); err != nil {
			return err
		}
		owner, err := r.store.Owner(ctx, v)
		if err != nil {
			return errors.Wrap(err, "remap read owner", j.KV("vnode", v))
		}
		if owner == pnode {
			return errors.Wrap(ErrAlreadyOwned, "", j.MKV{"vnode": v, "pnode": pnode})
		}
		if err := r.store.Remap(ctx, pnode, v); err != nil {
			return errors.Wrap(err, "remap vnode", j.KV("vnode", v))
		}
		remapCounter.WithLabelValues(r.backend).Inc()
		r.watcher.OnRemap(pnode, v)
	}

	r.logger.Debug(ctx, "remapped vnodes", j.MKV{
		"pnode":  pnode,
		"vnodes": len(vnodes),
	})
	return nil
}

// RemovePnode drops a pnode's identity. The pnode must exist and own
// zero vnodes; callers must remap all its vnodes away first.
func (r *Ring) RemovePnode(ctx context.Context, pnode string) error {
	vnodes, err := r.store.Vnodes(ctx, pnode)
	if err != nil {
		return err
	}
	if len(vnodes) > 0 {
		return errors.Wrap(ErrPnodeNotEmpty, "", j.MKV{
			"pnode": pnode,
			"owns":  len(vnodes),
		})
	}
	if err := r.store.RemovePnode(ctx, pnode); err != nil {
		return errors.Wrap(err, "remove pnode", j.KV("pnode", pnode))
	}
	r.watcher.OnRemove(pnode)
	r.logger.Debug(ctx, "removed pnode", j.KV("pnode", pnode))
	return nil
}

// Snapshot enumerates the current topology into a Snapshot stamped
// with the engine version.
func (r *Ring) Snapshot(ctx context.Context) (*Snapshot, error) {
	return buildSnapshot(ctx, r.store)
}

// Serialize emits the canonical topology document. Feeding the result
// to FromSnapshot reconstructs a ring observably indistinguishable
// from this one.
func (r *Ring) Serialize(ctx context.Context) ([]byte, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "serialize snapshot")
	}
	return b, nil
}

// Verify checks that the vnode space is a total, non-overlapping
// partition across pnodes and returns ErrCorruptTopology if not. It
// never repairs.
func (r *Ring) Verify(ctx context.Context) error {
	pnodes, err := r.store.Pnodes(ctx)
	if err != nil {
		return err
	}
	count, err := r.store.VnodeCount(ctx)
	if err != nil {
		return err
	}
	owned := make([]bool, count)
	for _, pnode := range pnodes {
		vnodes, err := r.store.Vnodes(ctx, pnode)
		if err != nil {
			return err
		}
		for _, v := range vnodes {
			if v < 0 || v >= count {
				return errors.Wrap(ErrCorruptTopology, "vnode out of range", j.MKV{
					"pnode": pnode, "vnode": v,
				})
			}
			if owned[v] {
				return errors.Wrap(ErrCorruptTopology, "vnode owned twice", j.KV("vnode", v))
			}
			owned[v] = true
		}
	}
	for v, ok := range owned {
		if !ok {
			return errors.Wrap(ErrCorruptTopology, "vnode unowned", j.KV("vnode", v))
		}
	}
	return nil
}

// Close releases the underlying store handle. The ring must not be
// used afterwards.
func (r *Ring) Close() error {
	return r.store.Close()
}

func (r *Ring) checkRange(v int) error {
	if v < 0 || v >= r.hs.count {
		return errors.Wrap(ErrVnodeOutOfRange, "", j.MKV{
			"vnode": v,
			"count": r.hs.count,
		})
	}
	return nil
}
