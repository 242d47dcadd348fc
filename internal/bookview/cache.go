package bookview

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// MapCache is the in-process cache backend: one mutex, one map. A cache
// library buys nothing for two whole-value entries.
type MapCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string][]byte)}
}

func (c *MapCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MapCache) Set(ctx context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *MapCache) Flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string][]byte)
}

// RedisCache backs the view with redis so multiple API processes can share
// one cache. Entries carry a short TTL as a safety net on top of the
// explicit per-settlement flush.
type RedisCache struct {
	cli *redis.Client
	ttl time.Duration
	log *logrus.Entry
}

func NewRedisCache(ctx context.Context, addr string, log *logrus.Entry) (*RedisCache, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{cli: cli, ttl: 5 * time.Second, log: log}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.cli.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("redis get failed")
		}
		return nil, false
	}
	return raw, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.cli.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("redis set failed")
	}
}

func (c *RedisCache) Flush(ctx context.Context) {
	if err := c.cli.Del(ctx, snapshotKey, tradesKey).Err(); err != nil {
		c.log.WithError(err).Warn("redis flush failed")
	}
}

func (c *RedisCache) Close() error { return c.cli.Close() }
