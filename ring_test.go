package vring

import (
	"context"
	"fmt"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRoundRobinAssignment(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A", "B"},
				append(b.opts(t), WithVnodes(100))...)

			var evens, odds []int
			for v := 0; v < 100; v++ {
				if v%2 == 0 {
					evens = append(evens, v)
				} else {
					odds = append(odds, v)
				}
			}

			vnodesA, err := r.GetVnodes(ctx, "A")
			jtest.RequireNil(t, err)
			assert.Equal(t, evens, vnodesA)

			vnodesB, err := r.GetVnodes(ctx, "B")
			jtest.RequireNil(t, err)
			assert.Equal(t, odds, vnodesB)

			jtest.RequireNil(t, r.Remap(ctx, "B", 0))

			vnodesA, err = r.GetVnodes(ctx, "A")
			jtest.RequireNil(t, err)
			assert.Equal(t, evens[1:], vnodesA)

			vnodesB, err = r.GetVnodes(ctx, "B")
			jtest.RequireNil(t, err)
			assert.Equal(t, append([]int{0}, odds...), vnodesB)
		})
	}
}

func TestGetNodeDeterministic(t *testing.T) {
	ctx := context.Background()

	r := newForTesting(t, ctx, []string{"A", "B", "C"}, WithVnodes(64))
	jtest.RequireNil(t, r.SetPayload(ctx, 3, "shard-3"))

	data, err := r.Serialize(ctx)
	jtest.RequireNil(t, err)

	mem := fromSnapshotForTesting(t, ctx, data)
	disk := fromSnapshotForTesting(t, ctx, data, WithDir(t.TempDir()))

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)

		want, err := r.GetNode(ctx, key)
		jtest.RequireNil(t, err)
		assert.GreaterOrEqual(t, want.Vnode, 0)
		assert.Less(t, want.Vnode, 64)

		again, err := r.GetNode(ctx, key)
		jtest.RequireNil(t, err)
		assert.Equal(t, want, again)

		fromMem, err := mem.GetNode(ctx, key)
		jtest.RequireNil(t, err)
		assert.Equal(t, want, fromMem)

		fromDisk, err := disk.GetNode(ctx, key)
		jtest.RequireNil(t, err)
		assert.Equal(t, want, fromDisk)
	}
}

func TestConcurrentLookups(t *testing.T) {
	ctx := context.Background()

	r := newForTesting(t, ctx, []string{"A", "B"}, WithVnodes(128))

	keys := make(map[string]Assignment)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		a, err := r.GetNode(ctx, key)
		jtest.RequireNil(t, err)
		keys[key] = a
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for key, want := range keys {
				got, err := r.GetNode(ctx, key)
				if err != nil {
					return err
				}
				if got != want {
					return fmt.Errorf("lookup moved: key %s", key)
				}
			}
			return nil
		})
	}
	jtest.RequireNil(t, g.Wait())
}

func TestRemapCarriesPayload(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A", "B"},
				append(b.opts(t), WithVnodes(16))...)

			jtest.RequireNil(t, r.SetPayload(ctx, 4, "shard-4"))
			jtest.RequireNil(t, r.Remap(ctx, "C", 4))

			vnodesC, err := r.GetVnodes(ctx, "C")
			jtest.RequireNil(t, err)
			assert.Equal(t, []int{4}, vnodesC)

			vnodesA, err := r.GetVnodes(ctx, "A")
			jtest.RequireNil(t, err)
			assert.NotContains(t, vnodesA, 4)

			snap, err := r.Snapshot(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, PayloadOf("shard-4"), snap.Members["C"][4])

			jtest.RequireNil(t, r.Verify(ctx))
		})
	}
}

func TestRemapValidation(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name   string
		pnode  string
		vnodes []int
		expErr error
	}{
		{name: "out of range", pnode: "B", vnodes: []int{16}, expErr: ErrVnodeOutOfRange},
		{name: "negative", pnode: "B", vnodes: []int{-1}, expErr: ErrVnodeOutOfRange},
		{name: "duplicate in request", pnode: "C", vnodes: []int{1, 1}, expErr: ErrDuplicateVnode},
		{name: "already owned", pnode: "A", vnodes: []int{0}, expErr: ErrAlreadyOwned},
	}

	for _, b := range backends() {
		for _, tc := range testCases {
			t.Run(b.name+"/"+tc.name, func(t *testing.T) {
				r := newForTesting(t, ctx, []string{"A", "B"},
					append(b.opts(t), WithVnodes(16))...)

				before, err := r.Snapshot(ctx)
				jtest.RequireNil(t, err)

				jtest.Require(t, tc.expErr, r.Remap(ctx, tc.pnode, tc.vnodes...))

				after, err := r.Snapshot(ctx)
				jtest.RequireNil(t, err)
				assert.Equal(t, before, after)
			})
		}
	}
}

func TestRemapCreatesPnode(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A", "B"},
				append(b.opts(t), WithVnodes(8))...)

			jtest.RequireNil(t, r.Remap(ctx, "C", 0, 2))

			pnodes, err := r.Pnodes(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, []string{"A", "B", "C"}, pnodes)

			vnodesA, err := r.GetVnodes(ctx, "A")
			jtest.RequireNil(t, err)
			assert.Equal(t, []int{4, 6}, vnodesA)

			jtest.RequireNil(t, r.Verify(ctx))
		})
	}
}

func TestRemovePnode(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A", "B"},
				append(b.opts(t), WithVnodes(4))...)

			// Still owns vnodes, must fail and change nothing.
			jtest.Require(t, ErrPnodeNotEmpty, r.RemovePnode(ctx, "A"))
			pnodes, err := r.Pnodes(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, []string{"A", "B"}, pnodes)

			// Unknown pnodes never silently succeed.
			jtest.Require(t, ErrPnodeNotFound, r.RemovePnode(ctx, "X"))

			jtest.RequireNil(t, r.Remap(ctx, "B", 0, 2))
			jtest.RequireNil(t, r.RemovePnode(ctx, "A"))

			pnodes, err = r.Pnodes(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, []string{"B"}, pnodes)

			_, err = r.GetVnodes(ctx, "A")
			jtest.Require(t, ErrPnodeNotFound, err)

			jtest.RequireNil(t, r.Verify(ctx))
		})
	}
}

func TestConstructionValidation(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			_, err := New(ctx, []string{"A", "A"}, append(b.opts(t), WithVnodes(8))...)
			jtest.Require(t, ErrDuplicatePnode, err)

			_, err = New(ctx, nil, append(b.opts(t), WithVnodes(8))...)
			jtest.Require(t, ErrNoPnodes, err)

			_, err = New(ctx, []string{"A"}, append(b.opts(t), WithVnodes(0))...)
			jtest.Require(t, ErrInvalidVnodeCount, err)
		})
	}
}

func TestDuplicatePnodeLeavesNoStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := New(ctx, []string{"A", "A"}, WithVnodes(8), WithDir(dir))
	jtest.Require(t, ErrDuplicatePnode, err)

	// Validation runs before the store is created, so there is nothing
	// to open.
	_, err = Open(ctx, dir)
	require.Error(t, err)
}

func TestSetPayload(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A"},
				append(b.opts(t), WithVnodes(8))...)

			jtest.Require(t, ErrVnodeOutOfRange, r.SetPayload(ctx, 8, "x"))

			// The empty string is a legitimate payload, distinct from
			// the cleared sentinel.
			jtest.RequireNil(t, r.SetPayload(ctx, 2, ""))
			snap, err := r.Snapshot(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, Payload{Value: "", Have: true}, snap.Members["A"][2])

			jtest.RequireNil(t, r.SetPayload(ctx, 2, "v2"))
			snap, err = r.Snapshot(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, PayloadOf("v2"), snap.Members["A"][2])

			jtest.RequireNil(t, r.ClearPayload(ctx, 2))
			snap, err = r.Snapshot(ctx)
			jtest.RequireNil(t, err)
			assert.Equal(t, Payload{}, snap.Members["A"][2])
		})
	}
}

func TestPartitionAfterMutations(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			r := newForTesting(t, ctx, []string{"A", "B", "C"},
				append(b.opts(t), WithVnodes(30))...)

			jtest.RequireNil(t, r.Remap(ctx, "D", 0, 3, 6, 9))
			jtest.RequireNil(t, r.Remap(ctx, "A", 1, 4))
			jtest.RequireNil(t, r.SetPayload(ctx, 9, "p"))
			jtest.RequireNil(t, r.Remap(ctx, "B", 9))
			jtest.RequireNil(t, r.Verify(ctx))

			// Union of all vnode sets covers [0, 30) without overlap.
			pnodes, err := r.Pnodes(ctx)
			jtest.RequireNil(t, err)
			seen := make(map[int]string)
			for _, pnode := range pnodes {
				vnodes, err := r.GetVnodes(ctx, pnode)
				jtest.RequireNil(t, err)
				for _, v := range vnodes {
					_, dup := seen[v]
					require.False(t, dup)
					seen[v] = pnode
				}
			}
			require.Len(t, seen, 30)
		})
	}
}

func TestWatcher(t *testing.T) {
	ctx := context.Background()

	w := &recordingWatcher{}
	r := newForTesting(t, ctx, []string{"A", "B"}, WithVnodes(8), WithWatcher(w))

	_, err := r.GetNode(ctx, "some-key")
	jtest.RequireNil(t, err)
	jtest.RequireNil(t, r.Remap(ctx, "C", 0))
	jtest.RequireNil(t, r.Remap(ctx, "B", 0))
	jtest.RequireNil(t, r.RemovePnode(ctx, "C"))

	assert.Equal(t, 1, w.lookups)
	assert.Equal(t, []string{"C", "B"}, w.remaps)
	assert.Equal(t, []string{"C"}, w.removes)
}

type recordingWatcher struct {
	lookups int
	remaps  []string
	removes []string
}

func (w *recordingWatcher) OnLookup(string, int, string) { w.lookups++ }
func (w *recordingWatcher) OnRemap(pnode string, _ int)  { w.remaps = append(w.remaps, pnode) }
func (w *recordingWatcher) OnRemove(pnode string)        { w.removes = append(w.removes, pnode) }
