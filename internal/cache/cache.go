// Package cache stores JSON-encoded read models (feed pages, the leaderboard)
// for a short TTL.
//
// Three stores implement Cache: Redis for multi-instance deployments, Memory
// for a single process, and Noop when caching is disabled. Entries are only
// ever dropped by TTL or by DeletePrefix after a write; the database stays the
// source of truth, and a cache error never fails a request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Key prefixes. Writers invalidate by prefix.
const (
	PrefixFeed        = "feed:"
	PrefixLeaderboard = "leaderboard:"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a TTL key/value store of JSON documents.
type Cache interface {
	// Get decodes the value at key into dst, or returns ErrMiss.
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// FeedKey names one cached page of the public feed.
func FeedKey(filter string, limit, offset int) string {
	return fmt.Sprintf("%s%s:%d:%d", PrefixFeed, filter, limit, offset)
}

// LeaderboardKey names the cached unfiltered top list.
const LeaderboardKey = PrefixLeaderboard + "top"

// ReadThrough fronts a Cache with a loader. Concurrent misses on the same key
// share one load.
//
// A load that overlaps an Invalidate may have read the database before the
// write committed. The generation counter catches that: such a result is
// returned to its callers but never left in the cache.
type ReadThrough struct {
	cache      Cache
	group      singleflight.Group
	logger     *slog.Logger
	generation atomic.Uint64

	// OnLookup, when set, is told whether each lookup hit.
	OnLookup func(hit bool)
}

func NewReadThrough(c Cache, logger *slog.Logger) *ReadThrough {
	if c == nil {
		c = Noop{}
	}
	return &ReadThrough{cache: c, logger: logger}
}

// Cache returns the underlying store.
func (rt *ReadThrough) Cache() Cache { return rt.cache }

// Invalidate drops every key under prefix. Failures are logged only.
func (rt *ReadThrough) Invalidate(ctx context.Context, prefixes ...string) {
	rt.generation.Add(1)
	for _, prefix := range prefixes {
		if err := rt.cache.DeletePrefix(ctx, prefix); err != nil {
			rt.logger.Warn("cache invalidation failed",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Load returns the cached value at key, or calls load, caches its result and
// returns it. Loader errors are returned; cache errors are logged and treated
// as a miss.
//
// The shared load runs detached from ctx's cancellation, so one caller giving
// up does not fail the others waiting on the same key.
func Load[T any](ctx context.Context, rt *ReadThrough, key string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	err := rt.cache.Get(ctx, key, &cached)
	if err == nil {
		rt.record(true)
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		rt.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	rt.record(false)

	v, err, _ := rt.group.Do(key, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		gen := rt.generation.Load()
		fresh, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		rt.store(loadCtx, key, fresh, gen)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// store caches value unless an Invalidate ran since gen was read. The check
// is repeated after Set because an Invalidate can land between the two.
func (rt *ReadThrough) store(ctx context.Context, key string, value any, gen uint64) {
	if rt.generation.Load() != gen {
		return
	}
	if err := rt.cache.Set(ctx, key, value); err != nil {
		rt.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if rt.generation.Load() != gen {
		if err := rt.cache.DeletePrefix(ctx, key); err != nil {
			rt.logger.Warn("cache invalidation failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

func (rt *ReadThrough) record(hit bool) {
	if rt.OnLookup != nil {
		rt.OnLookup(hit)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) error     { return ErrMiss }
func (Noop) Set(context.Context, string, any) error     { return nil }
func (Noop) DeletePrefix(context.Context, string) error { return nil }
