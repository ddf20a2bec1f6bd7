package cachetier

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ratingproxy.app/pkg/utils"
)

// remoteCache is the L2 backing store contract. redisCache below is the
// concrete implementation.
type remoteCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ErrNotFound is returned by remoteCache.Get on a miss.
var ErrNotFound = errors.New("cachetier: not found")

// redisCache implements remoteCache over one or more go-redis clients,
// sharding by key across addresses with a consistent-hash ring when more
// than one client is configured.
type redisCache struct {
	clients map[string]*redis.Client
	ring    *utils.HashRing
}

func newRedisCache(clients map[string]*redis.Client) *redisCache {
	ring := utils.NewHashRing(0)
	for addr := range clients {
		_ = ring.AddNode(addr, 1)
	}
	return &redisCache{clients: clients, ring: ring}
}

func (r *redisCache) clientFor(key string) *redis.Client {
	addr := r.ring.GetNode(key)
	if addr == "" {
		for _, c := range r.clients {
			return c
		}
		return nil
	}
	return r.clients[addr]
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	c := r.clientFor(key)
	if c == nil {
		return nil, ErrNotFound
	}
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c := r.clientFor(key)
	if c == nil {
		return errors.New("cachetier: no backing redis client available")
	}
	return c.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	c := r.clientFor(key)
	if c == nil {
		return nil
	}
	return c.Del(ctx, key).Err()
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	c := r.clientFor(key)
	if c == nil {
		return false, nil
	}
	n, err := c.Exists(ctx, key).Result()
	return n > 0, err
}

// sortedSetStore is the subset of Redis sorted-set operations the rate
// limiter and hot-key tracker need. Implemented directly by *redis.Client.
type sortedSetStore interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZIncrBy(ctx context.Context, key string, increment float64, member string) *redis.FloatCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}
