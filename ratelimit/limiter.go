package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ratingproxy.app/keys"
	"ratingproxy.app/pkg/middleware"
)

// Policy is one tier's (rps, burst) pair, read from environment inputs.
type Policy struct {
	RPS   float64
	Burst int64
}

// Config maps every tier to its policy.
type Config struct {
	Policies map[Tier]Policy
	Version  int
}

// Decision is the outcome of a Check call, carrying everything the HTTP
// layer needs to set X-RateLimit-* and, on reject, Retry-After.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetUnix int64
	RetryAfter time.Duration
}

// sortedSetStore is the subset of *redis.Client this limiter needs. Kept
// local (rather than imported from cachetier, which is unexported there)
// so this package has no dependency on the cache tier's internals —
// ratelimit and cachetier both talk to the same Redis deployment but are
// independent clients of it rather than going through each other.
type sortedSetStore interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// Limiter is an in-process token-bucket pre-check (cheap, approximate)
// followed by the authoritative Redis sliding window.
type Limiter struct {
	cfg     Config
	store   sortedSetStore
	buckets map[Tier]*middleware.TokenBucket
	logger  *zap.Logger
}

func New(cfg Config, store sortedSetStore, logger *zap.Logger) *Limiter {
	buckets := make(map[Tier]*middleware.TokenBucket, len(cfg.Policies))
	for tier, p := range cfg.Policies {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		// Refill at burst/sec rather than rps: the bucket's only job is to
		// shed obviously-over-limit traffic before the Redis round trip,
		// and it must never reject a request the sliding window would
		// still admit. The window allows up to burst requests in any
		// rolling second, so the pre-check has to be able to reach full
		// capacity within that same second after being idle — refilling
		// at rps alone (when rps < burst, the common case for bursty
		// tiers) would make the pre-check stricter than the window and
		// reject admits it has no business rejecting.
		buckets[tier] = middleware.NewTokenBucket(float64(burst), burst)
	}
	return &Limiter{cfg: cfg, store: store, buckets: buckets, logger: logger}
}

// Check drops entries older than now-1s, counts what remains, admits iff
// count < burst, and on admit appends (now, nonce). On any store failure
// it fails open (admits), matching the cache tier's fail-open posture.
func (l *Limiter) Check(ctx context.Context, identity string, tier Tier) Decision {
	policy, ok := l.cfg.Policies[tier]
	if !ok {
		return Decision{Allowed: true}
	}

	if bucket, ok := l.buckets[tier]; ok && !bucket.Allow(identity) {
		return Decision{
			Allowed:    false,
			Limit:      policy.Burst,
			Remaining:  0,
			ResetUnix:  time.Now().Add(time.Second).Unix(),
			RetryAfter: time.Second,
		}
	}

	if l.store == nil {
		return Decision{Allowed: true, Limit: policy.Burst, Remaining: policy.Burst}
	}

	windowKey := keys.RateLimitWindow(l.cfg.Version, string(tier), identity)
	now := time.Now()
	cutoff := now.Add(-time.Second)

	if err := l.store.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		l.logger.Warn("rate limiter store error, failing open", zap.Error(err))
		return Decision{Allowed: true, Limit: policy.Burst, Remaining: policy.Burst}
	}

	count, err := l.store.ZCard(ctx, windowKey).Result()
	if err != nil {
		l.logger.Warn("rate limiter store error, failing open", zap.Error(err))
		return Decision{Allowed: true, Limit: policy.Burst, Remaining: policy.Burst}
	}

	if count >= policy.Burst {
		retryAfter := l.retryAfter(ctx, windowKey, now)
		return Decision{
			Allowed:    false,
			Limit:      policy.Burst,
			Remaining:  0,
			ResetUnix:  now.Add(retryAfter).Unix(),
			RetryAfter: retryAfter,
		}
	}

	nonce := uuid.NewString()
	member := fmt.Sprintf("%d:%s", now.UnixNano(), nonce)
	if err := l.store.ZAdd(ctx, windowKey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		l.logger.Warn("rate limiter failed to record request, admitting anyway", zap.Error(err))
	}
	_ = l.store.Expire(ctx, windowKey, 2*time.Second)

	return Decision{
		Allowed:   true,
		Limit:     policy.Burst,
		Remaining: policy.Burst - count - 1,
		ResetUnix: now.Add(time.Second).Unix(),
	}
}

// retryAfter computes the ceiling of the seconds until the oldest
// in-window request expires.
func (l *Limiter) retryAfter(ctx context.Context, windowKey string, now time.Time) time.Duration {
	oldest, err := l.store.ZRangeWithScores(ctx, windowKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return time.Second
	}
	oldestTime := time.Unix(0, int64(oldest[0].Score))
	remaining := oldestTime.Add(time.Second).Sub(now)
	if remaining <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(remaining.Seconds())) * time.Second
}
