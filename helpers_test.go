package vring

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"
)

// backend builds construction options for one store implementation so
// that every behavioural test runs against both.
type backend struct {
	name string
	opts func(t *testing.T) []Option
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			opts: func(t *testing.T) []Option { return nil },
		},
		{
			name: "disk",
			opts: func(t *testing.T) []Option {
				return []Option{WithDir(t.TempDir())}
			},
		},
	}
}

func newForTesting(t *testing.T, ctx context.Context, pnodes []string, opts ...Option) *Ring {
	t.Helper()
	r, err := New(ctx, pnodes, opts...)
	jtest.RequireNil(t, err)
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}

func fromSnapshotForTesting(t *testing.T, ctx context.Context, data []byte, opts ...Option) *Ring {
	t.Helper()
	r, err := FromSnapshot(ctx, data, opts...)
	jtest.RequireNil(t, err)
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}
