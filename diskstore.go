package vring

import (
	"context"
	"sort"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Store key layout. Each topology fact lives under its own key so a
// single-vnode mutation touches O(1) records.
const (
	keyVnodeCount = "VNODE_COUNT"
	keyVnodeData  = "VNODE_DATA"
	keyAlgorithm  = "ALGORITHM"
	keyVersion    = "VERSION"
	keyComplete   = "COMPLETE"
	keyPnodeList  = "/PNODE"
	prefixVnode   = "/VNODE/"
	prefixPnode   = "/PNODE/"
)

func vnodeKey(v int) string {
	return prefixVnode + strconv.Itoa(v)
}

func pnodeKey(pnode string) string {
	return prefixPnode + pnode
}

func pnodeVnodeKey(pnode string, v int) string {
	return prefixPnode + pnode + "/" + strconv.Itoa(v)
}

// diskStore is the persisted backend, a key layout over an embedded
// ordered key-value store. Each logical mutation is a short sequence
// of point reads staged into one batch and committed with one atomic
// write, so partial visibility of a mutation is never observable.
//
// The algorithm and vnode count are immutable after construction and
// cached on open.
type diskStore struct {
	db    *leveldb.DB
	algo  Algorithm
	count int
}

// createDiskStore writes a complete topology into a fresh store at
// dir. Ownership records are committed first and the COMPLETE marker
// strictly last, so a loader can detect an interrupted build. pnodes
// is the full pnode list, including any that own zero vnodes.
func createDiskStore(ctx context.Context, dir string, algo Algorithm, pnodes []string, owners []string, payloads []Payload) (*diskStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open store", j.KV("dir", dir))
	}

	has, err := db.Has([]byte(keyComplete), nil)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "check store")
	}
	if has {
		_ = db.Close()
		return nil, errors.Wrap(ErrStoreExists, "", j.KV("dir", dir))
	}

	s := &diskStore{db: db, algo: algo, count: len(owners)}

	meta := new(leveldb.Batch)
	if err := batchPut(meta, keyVersion, Version); err != nil {
		return nil, s.closeOnErr(err)
	}
	hs := newHashspace(algo, s.count)
	err = batchPut(meta, keyAlgorithm, algorithmJSON{
		Name:     algo.Name,
		Max:      algo.Max.Text(16),
		Interval: hs.interval.Text(16),
	})
	if err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := batchPut(meta, keyVnodeCount, s.count); err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := s.write(meta, "store meta"); err != nil {
		return nil, s.closeOnErr(err)
	}

	held := make(map[string][]int, len(pnodes))
	for _, pnode := range pnodes {
		held[pnode] = make([]int, 0)
	}
	for v, pnode := range owners {
		held[pnode] = append(held[pnode], v)
	}
	pnodes = append([]string(nil), pnodes...)
	sort.Strings(pnodes)

	// One batch per pnode: its vnode list, its payload records and the
	// owner record of every vnode it holds.
	for _, pnode := range pnodes {
		batch := new(leveldb.Batch)
		if err := batchPut(batch, pnodeKey(pnode), held[pnode]); err != nil {
			return nil, s.closeOnErr(err)
		}
		for _, v := range held[pnode] {
			if err := batchPut(batch, vnodeKey(v), pnode); err != nil {
				return nil, s.closeOnErr(err)
			}
			if err := batchPut(batch, pnodeVnodeKey(pnode, v), encodePayload(payloads[v])); err != nil {
				return nil, s.closeOnErr(err)
			}
		}
		if err := s.write(batch, "store pnode"); err != nil {
			return nil, s.closeOnErr(err)
		}
	}

	data := make([]int, 0)
	for v, p := range payloads {
		if p.Have {
			data = append(data, v)
		}
	}
	last := new(leveldb.Batch)
	if err := batchPut(last, keyPnodeList, pnodes); err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := batchPut(last, keyVnodeData, data); err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := s.write(last, "store lists"); err != nil {
		return nil, s.closeOnErr(err)
	}

	// Marks the build as finished. Must be the final write.
	done := new(leveldb.Batch)
	if err := batchPut(done, keyComplete, true); err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := s.write(done, "store complete"); err != nil {
		return nil, s.closeOnErr(err)
	}
	return s, nil
}

// openDiskStore opens an existing store, refusing stores whose build
// never completed or that were written by a newer engine.
func openDiskStore(ctx context.Context, dir string) (*diskStore, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{ErrorIfMissing: true})
	if err != nil {
		return nil, errors.Wrap(err, "open store", j.KV("dir", dir))
	}
	s := &diskStore{db: db}

	has, err := db.Has([]byte(keyComplete), nil)
	if err != nil {
		return nil, s.closeOnErr(errors.Wrap(err, "check store"))
	}
	if !has {
		return nil, s.closeOnErr(errors.Wrap(ErrIncompleteStore, "", j.KV("dir", dir)))
	}

	var stored string
	if err := s.get(keyVersion, &stored); err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := compatible(stored); err != nil {
		return nil, s.closeOnErr(err)
	}

	var algo algorithmJSON
	if err := s.get(keyAlgorithm, &algo); err != nil {
		return nil, s.closeOnErr(err)
	}
	s.algo, err = algorithmByName(algo.Name)
	if err != nil {
		return nil, s.closeOnErr(err)
	}
	if err := s.get(keyVnodeCount, &s.count); err != nil {
		return nil, s.closeOnErr(err)
	}
	return s, nil
}

func (s *diskStore) closeOnErr(err error) error {
	_ = s.db.Close()
	return err
}

func (s *diskStore) get(key string, out interface{}) error {
	b, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return errors.Wrap(ErrNotFound, "", j.KV("key", key))
	} else if err != nil {
		return errors.Wrap(err, "store get", j.KV("key", key))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "store decode", j.KV("key", key))
	}
	return nil
}

func batchPut(batch *leveldb.Batch, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "store encode", j.KV("key", key))
	}
	batch.Put([]byte(key), b)
	return nil
}

func (s *diskStore) write(batch *leveldb.Batch, op string) error {
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, op)
	}
	return nil
}

func (s *diskStore) Algorithm(context.Context) (Algorithm, error) {
	return s.algo, nil
}

func (s *diskStore) VnodeCount(context.Context) (int, error) {
	return s.count, nil
}

func (s *diskStore) Owner(ctx context.Context, v int) (string, error) {
	var pnode string
	if err := s.get(vnodeKey(v), &pnode); err != nil {
		return "", err
	}
	return pnode, nil
}

func (s *diskStore) Payload(ctx context.Context, v int) (Payload, error) {
	owner, err := s.Owner(ctx, v)
	if err != nil {
		return Payload{}, err
	}
	var raw interface{}
	if err := s.get(pnodeVnodeKey(owner, v), &raw); err != nil {
		return Payload{}, err
	}
	p, err := decodePayload(raw)
	if err != nil {
		return Payload{}, errors.Wrap(err, "", j.KV("vnode", v))
	}
	return p, nil
}

func (s *diskStore) Vnodes(ctx context.Context, pnode string) ([]int, error) {
	var vnodes []int
	err := s.get(pnodeKey(pnode), &vnodes)
	if errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(ErrPnodeNotFound, "", j.KV("pnode", pnode))
	} else if err != nil {
		return nil, err
	}
	sort.Ints(vnodes)
	return vnodes, nil
}

func (s *diskStore) Pnodes(ctx context.Context) ([]string, error) {
	var pnodes []string
	if err := s.get(keyPnodeList, &pnodes); err != nil {
		return nil, err
	}
	sort.Strings(pnodes)
	return pnodes, nil
}

func (s *diskStore) SetPayload(ctx context.Context, v int, p Payload) error {
	owner, err := s.Owner(ctx, v)
	if err != nil {
		return err
	}
	var data []int
	if err := s.get(keyVnodeData, &data); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if err := batchPut(batch, pnodeVnodeKey(owner, v), encodePayload(p)); err != nil {
		return err
	}
	if err := batchPut(batch, keyVnodeData, updateSet(data, v, p.Have)); err != nil {
		return err
	}
	return s.write(batch, "set payload")
}

func (s *diskStore) Remap(ctx context.Context, pnode string, v int) error {
	old, err := s.Owner(ctx, v)
	if err != nil {
		return err
	}
	p, err := s.Payload(ctx, v)
	if err != nil {
		return err
	}
	oldVnodes, err := s.Vnodes(ctx, old)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)

	newVnodes, err := s.Vnodes(ctx, pnode)
	if errors.Is(err, ErrPnodeNotFound) {
		// First remap onto an unseen pnode creates it.
		pnodes, err := s.Pnodes(ctx)
		if err != nil {
			return err
		}
		if err := batchPut(batch, keyPnodeList, append(pnodes, pnode)); err != nil {
			return err
		}
		newVnodes = nil
	} else if err != nil {
		return err
	}

	if err := batchPut(batch, vnodeKey(v), pnode); err != nil {
		return err
	}
	batch.Delete([]byte(pnodeVnodeKey(old, v)))
	if err := batchPut(batch, pnodeVnodeKey(pnode, v), encodePayload(p)); err != nil {
		return err
	}
	if err := batchPut(batch, pnodeKey(old), updateSet(oldVnodes, v, false)); err != nil {
		return err
	}
	if err := batchPut(batch, pnodeKey(pnode), updateSet(newVnodes, v, true)); err != nil {
		return err
	}
	return s.write(batch, "remap vnode")
}

func (s *diskStore) RemovePnode(ctx context.Context, pnode string) error {
	pnodes, err := s.Pnodes(ctx)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(pnodeKey(pnode)))
	if err := batchPut(batch, keyPnodeList, removeString(pnodes, pnode)); err != nil {
		return err
	}
	return s.write(batch, "remove pnode")
}

func (s *diskStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close store")
	}
	return nil
}

// updateSet adds v to or removes v from a sorted vnode id set.
func updateSet(set []int, v int, add bool) []int {
	out := make([]int, 0, len(set)+1)
	for _, x := range set {
		if x != v {
			out = append(out, x)
		}
	}
	if add {
		out = append(out, v)
		sort.Ints(out)
	}
	return out
}

func removeString(set []string, s string) []string {
	out := make([]string, 0, len(set))
	for _, x := range set {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
