package ygggo_orm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"
)

// Registry keeps one Executor, and so one pool, per connection target
// (Config.Key). Create it at start-up and pass it to the code that needs it.
type Registry struct {
	opts   []Option
	logger *slog.Logger

	mu        sync.RWMutex
	executors map[string]*Executor
	// gens is bumped by Remove and epoch by Close, so a build that
	// started before either does not register its executor.
	gens  map[string]uint64
	epoch uint64
	sf    singleflight.Group
	open  func(ctx context.Context, cfg Config, opts ...Option) (*Executor, error)
}

// NewRegistry returns an empty registry. opts apply to every executor it builds.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:      opts,
		logger:    newOptions(opts).logger,
		executors: make(map[string]*Executor),
		gens:      make(map[string]uint64),
		open:      Open,
	}
}

// Get returns the executor for cfg.Key(), building it on first use.
// Concurrent first calls for one key build exactly one executor. The build
// is shared, so it ignores the cancellation of the caller that started it.
// A build overtaken by Remove or Close fails with ErrPoolClosed.
func (r *Registry) Get(ctx context.Context, cfg Config) (*Executor, error) {
	key := cfg.Key()
	r.mu.RLock()
	e, ok := r.executors[key]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	ch := r.sf.DoChan(key, func() (any, error) {
		r.mu.RLock()
		e, ok := r.executors[key]
		gen, epoch := r.gens[key], r.epoch
		r.mu.RUnlock()
		if ok {
			return e, nil
		}
		buildCtx := context.WithoutCancel(ctx)
		e, err := r.open(buildCtx, cfg, r.opts...)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gens[key] != gen || r.epoch != epoch {
			r.mu.Unlock()
			_ = e.Close()
			return nil, fmt.Errorf("executor for %s removed while opening: %w", key, ErrPoolClosed)
		}
		r.executors[key] = e
		r.mu.Unlock()
		r.logger.LogAttrs(buildCtx, slog.LevelInfo, "executor registered",
			slog.String("key", key),
			slog.String("target", cfg.String()),
		)
		return e, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Executor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Remove closes and forgets the executor for cfg. Unknown targets are
// ignored, but a build of cfg already in progress is discarded.
func (r *Registry) Remove(cfg Config) error {
	key := cfg.Key()
	r.mu.Lock()
	e, ok := r.executors[key]
	delete(r.executors, key)
	r.gens[key]++
	r.mu.Unlock()
	r.sf.Forget(key)
	if !ok {
		return nil
	}
	r.logger.LogAttrs(context.Background(), slog.LevelInfo, "executor removed", slog.String("key", key))
	return e.Close()
}

// Keys lists the registered targets in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.executors))
	for k := range r.executors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every registered executor and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	executors := r.executors
	r.executors = make(map[string]*Executor)
	r.epoch++
	r.mu.Unlock()

	var result *multierror.Error
	for _, e := range executors {
		if err := e.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) snapshot() map[string]*Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Executor, len(r.executors))
	for k, v := range r.executors {
		out[k] = v
	}
	return out
}
