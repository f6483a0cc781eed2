package cache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhub/pkg/logger"
)

const (
	keyPrefix = "tasks:"
	genPrefix = "taskgen:"
)

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info(ctx, "Redis client initialized", "pool_size", opts.PoolSize)
	return client, nil
}

// ListCache stores serialized task lists per owner. Each owner's entries live
// in one hash keyed by generation and filter, so invalidation is one INCR plus
// one DEL. A fill computed before an invalidation carries the old generation
// and is never read back.
// A nil *ListCache is valid and caches nothing.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// New wraps a client. ttl bounds how long an owner's lists survive without writes.
func New(client *redis.Client, ttl time.Duration) *ListCache {
	if client == nil {
		return nil
	}
	return &ListCache{client: client, ttl: ttl}
}

func ownerKey(owner string) string {
	return keyPrefix + owner
}

func generationKey(owner string) string {
	return genPrefix + owner
}

func field(gen int64, filterKey string) string {
	return strconv.FormatInt(gen, 10) + "|" + filterKey
}

// Generation returns the owner's current list generation. Read it before
// querying the store. ok is false when Redis cannot answer; skip the cache then.
func (c *ListCache) Generation(ctx context.Context, owner string) (gen int64, ok bool) {
	if c == nil {
		return 0, false
	}
	gen, err := c.client.Get(ctx, generationKey(owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.errs.Add(1)
		logger.Debug(ctx, "Redis get generation failed", "error", err, "owner", owner)
		return 0, false
	}
	return gen, true
}

// Get returns the cached JSON for owner+filter at gen. Returns (nil, false) on miss or error.
func (c *ListCache) Get(ctx context.Context, owner string, gen int64, filterKey string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	b, err := c.client.HGet(ctx, ownerKey(owner), field(gen, filterKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.errs.Add(1)
		logger.Debug(ctx, "Redis get tasks failed", "error", err)
		return nil, false
	}
	c.hits.Add(1)
	return b, true
}

// Set stores JSON for owner+filter at gen and refreshes the owner's TTL.
func (c *ListCache) Set(ctx context.Context, owner string, gen int64, filterKey string, b []byte) {
	if c == nil {
		return
	}
	key := ownerKey(owner)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, field(gen, filterKey), b)
		if c.ttl > 0 {
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.errs.Add(1)
		logger.Debug(ctx, "Redis set tasks failed", "error", err)
	}
}

// SetAsync runs Set in its own goroutine with its own timeout, so the caller
// never waits on Redis.
func (c *ListCache) SetAsync(owner string, gen int64, filterKey string, b []byte) {
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Set(ctx, owner, gen, filterKey, b)
	}()
}

// Invalidate moves owner to a new generation and drops every cached list, so
// the next read goes to the store and in-flight fills land under a dead generation.
func (c *ListCache) Invalidate(ctx context.Context, owner string) {
	if c == nil {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(owner))
		p.Del(ctx, ownerKey(owner))
		return nil
	})
	if err != nil {
		c.errs.Add(1)
		logger.Debug(ctx, "Redis invalidate tasks failed", "error", err, "owner", owner)
	}
}

// Stats returns hit, miss and error counts since start.
func (c *ListCache) Stats() (hits, misses, errs uint64) {
	if c == nil {
		return 0, 0, 0
	}
	return c.hits.Load(), c.misses.Load(), c.errs.Load()
}

// Ping checks the Redis connection.
func (c *ListCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
