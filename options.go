package vring

import (
	"context"

	"github.com/luno/jettison"
	"github.com/luno/jettison/log"
)

// DefaultVnodes is the number of vnodes a ring is built with unless
// overridden with WithVnodes.
const DefaultVnodes = 100000

type options struct {
	vnodes  int
	algo    Algorithm
	dir     string
	logger  logger
	watcher Watcher
}

func defaultOptions() *options {
	return &options{
		vnodes:  DefaultVnodes,
		algo:    SHA256,
		logger:  jlogger{},
		watcher: nopWatcher{},
	}
}

type Option func(*options)

// WithVnodes returns an option to override the default vnode count.
// The count is fixed for the lifetime of the ring.
func WithVnodes(n int) Option {
	return func(o *options) {
		o.vnodes = n
	}
}

// WithAlgorithm returns an option to override the default sha256
// digest algorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(o *options) {
		o.algo = a
	}
}

// WithDir returns an option to back the ring with a persisted store at
// dir instead of process memory. The store handle is exclusively owned
// by the ring; two rings must not open the same dir concurrently.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithLogger returns an option to override the default jettison
// logger.
func WithLogger(l logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWatcher returns an option to attach tracing probes to ring
// operations. The default watcher is a no-op; a watcher is never
// required for correctness.
func WithWatcher(w Watcher) Option {
	return func(o *options) {
		o.watcher = w
	}
}

type logger interface {
	Debug(context.Context, string, ...jettison.Option)
	Info(context.Context, string, ...jettison.Option)
	Error(context.Context, error)
}

type jlogger struct{}

func (jlogger) Debug(ctx context.Context, msg string, opts ...jettison.Option) {
	opts = append(opts, log.WithLevel(log.LevelDebug))
	log.Info(ctx, msg, opts...)
}

func (jlogger) Info(ctx context.Context, msg string, opts ...jettison.Option) {
	log.Info(ctx, msg, opts...)
}

func (jlogger) Error(ctx context.Context, err error) {
	log.Error(ctx, err)
}

// Watcher receives low-level tracing callbacks from ring operations.
type Watcher interface {
	OnLookup(key string, vnode int, pnode string)
	OnRemap(pnode string, vnode int)
	OnRemove(pnode string)
}

type nopWatcher struct{}

func (nopWatcher) OnLookup(string, int, string) {}
func (nopWatcher) OnRemap(string, int)          {}
func (nopWatcher) OnRemove(string)              {}
