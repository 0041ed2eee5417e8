package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
)

var ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")

// ResultCache stores raw match lists keyed by the engine's cache key.  It
// implements molecule.ResultCache.
type ResultCache struct {
	client       *Client
	logger       logging.Logger
	prefix       string
	ttl          time.Duration
	singleflight singleflight.Group
}

type CacheOption func(*ResultCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *ResultCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResultCache) { c.ttl = ttl }
}

func NewResultCache(client *Client, log logging.Logger, opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		client: client,
		logger: log,
		prefix: "subsim:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	return c
}

func (c *ResultCache) fullKey(key string) string {
	return c.prefix + key
}

func (c *ResultCache) jitterTTL() time.Duration {
	if c.ttl == 0 {
		return 0
	}
	// +/- 10%
	jitter := float64(c.ttl) * 0.1 * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(jitter)
}

// Get returns the cached match list.  A miss is (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, ErrSerializationFailed.WithCause(err).WithDetail(key)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, true, nil
}

// Set stores matches under key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, matches []string) error {
	if matches == nil {
		matches = []string{}
	}
	data, err := json.Marshal(matches)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.jitterTTL()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache")
	}
	return nil
}

// GetOrCompute returns the cached list for key or computes, stores and
// returns it.  hit reports whether Redis served the value.  Concurrent
// callers for the same key share one computation, which runs under the
// context of the caller that started it.  A caller whose own context is
// still live recomputes when the shared computation was cancelled.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]string, error)) (ids []string, hit bool, err error) {
	ids, ok, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, computing", logging.String("key", key), logging.Err(err))
	} else if ok {
		return ids, true, nil
	}

	ch := c.singleflight.DoChan(key, func() (interface{}, error) {
		return c.computeAndStore(ctx, key, compute)
	})
	select {
	case <-ctx.Done():
		return nil, false, errors.Wrap(ctx.Err(), errors.ErrCodeCancelled, "cache computation abandoned").WithDetail(key)
	case res := <-ch:
		if res.Err == nil {
			return append([]string(nil), res.Val.([]string)...), false, nil
		}
		if !isContextError(res.Err) || ctx.Err() != nil {
			return nil, false, res.Err
		}
		c.logger.Debug("Shared computation cancelled, recomputing", logging.String("key", key))
		ids, err := c.computeAndStore(ctx, key, compute)
		if err != nil {
			return nil, false, err
		}
		return ids, false, nil
	}
}

// computeAndStore runs compute and caches its result.  A panic in compute
// is returned as an error because DoChan would otherwise re-raise it on a
// goroutine nobody recovers.
func (c *ResultCache) computeAndStore(ctx context.Context, key string, compute func(ctx context.Context) ([]string, error)) (ids []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeInternal, "cache computation panicked: %v", r).WithDetail(key)
		}
	}()
	ids, err = compute(ctx)
	if err != nil {
		return nil, err
	}
	if setErr := c.Set(ctx, key, ids); setErr != nil {
		c.logger.Warn("Failed to set cache in GetOrCompute", logging.Err(setErr))
	}
	return ids, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.IsCode(err, errors.ErrCodeCancelled)
}

// Invalidate removes every entry whose key starts with prefix, typically
// all results for a retired library version.
func (c *ResultCache) Invalidate(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	var cursor uint64
	match := c.fullKey(prefix) + "*"
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan cache")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
			}
			deleted += int64(len(keys))
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

var _ molecule.ResultCache = (*ResultCache)(nil)
