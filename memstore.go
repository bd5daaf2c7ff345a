package vring

import (
	"context"
	"sort"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// memStore is the volatile backend. Every operation runs to completion
// synchronously on process-local structures, so each call is trivially
// atomic for a single caller.
type memStore struct {
	algo     Algorithm
	owners   []string  // vnode to owning pnode
	payloads []Payload // vnode to payload
	held     map[string]map[int]bool
}

// newMemStore builds a fresh topology with vnodes assigned round-robin
// across pnodes and no payloads.
func newMemStore(algo Algorithm, count int, pnodes []string) *memStore {
	s := &memStore{
		algo:     algo,
		owners:   make([]string, count),
		payloads: make([]Payload, count),
		held:     make(map[string]map[int]bool, len(pnodes)),
	}
	for _, pnode := range pnodes {
		s.held[pnode] = make(map[int]bool)
	}
	for v := 0; v < count; v++ {
		pnode := pnodes[v%len(pnodes)]
		s.owners[v] = pnode
		s.held[pnode][v] = true
	}
	return s
}

// memStoreFromSnapshot rehydrates the exact mapping and payloads.
func memStoreFromSnapshot(snap *Snapshot) (*memStore, error) {
	owners, payloads, err := snap.partition()
	if err != nil {
		return nil, err
	}
	s := &memStore{
		algo:     snap.Algorithm,
		owners:   owners,
		payloads: payloads,
		held:     make(map[string]map[int]bool, len(snap.Members)),
	}
	for pnode := range snap.Members {
		s.held[pnode] = make(map[int]bool)
	}
	for v, pnode := range owners {
		s.held[pnode][v] = true
	}
	return s, nil
}

func (s *memStore) Algorithm(context.Context) (Algorithm, error) {
	return s.algo, nil
}

func (s *memStore) VnodeCount(context.Context) (int, error) {
	return len(s.owners), nil
}

func (s *memStore) Owner(ctx context.Context, v int) (string, error) {
	return s.owners[v], nil
}

func (s *memStore) Payload(ctx context.Context, v int) (Payload, error) {
	return s.payloads[v], nil
}

func (s *memStore) Vnodes(ctx context.Context, pnode string) ([]int, error) {
	owned, ok := s.held[pnode]
	if !ok {
		return nil, errors.Wrap(ErrPnodeNotFound, "", j.KV("pnode", pnode))
	}
	vnodes := make([]int, 0, len(owned))
	for v := range owned {
		vnodes = append(vnodes, v)
	}
	sort.Ints(vnodes)
	return vnodes, nil
}

func (s *memStore) Pnodes(ctx context.Context) ([]string, error) {
	pnodes := make([]string, 0, len(s.held))
	for pnode := range s.held {
		pnodes = append(pnodes, pnode)
	}
	sort.Strings(pnodes)
	return pnodes, nil
}

func (s *memStore) SetPayload(ctx context.Context, v int, p Payload) error {
	s.payloads[v] = p
	return nil
}

func (s *memStore) Remap(ctx context.Context, pnode string, v int) error {
	old := s.owners[v]
	if _, ok := s.held[pnode]; !ok {
		s.held[pnode] = make(map[int]bool)
	}
	delete(s.held[old], v)
	s.held[pnode][v] = true
	s.owners[v] = pnode
	return nil
}

func (s *memStore) RemovePnode(ctx context.Context, pnode string) error {
	delete(s.held, pnode)
	return nil
}

func (s *memStore) Close() error {
	return nil
}
