// Package middleware holds small concurrency primitives shared by the
// rate limiter. TokenBucket is the in-process pre-check the limiter runs
// before its authoritative Redis sliding-window check: cheap, approximate,
// and only ever used to shed obviously-over-limit traffic without a Redis
// round trip.
package middleware

import (
	"sync"
	"sync/atomic"
	"time"
)

// TokenBucket is a per-key token bucket: on-demand refill, lock-free via
// atomics, no background goroutines.
type TokenBucket struct {
	refillRate float64 // tokens added per second
	bucketSize int64   // capacity, also the burst a key can spend at once

	buckets sync.Map // key string -> *bucket
}

type bucket struct {
	tokens     int64 // atomic
	lastRefill int64 // atomic, unix nanoseconds
	maxTokens  int64
	refillRate float64
}

// NewTokenBucket builds a limiter that refills at refillRate tokens/sec up
// to bucketSize tokens.
func NewTokenBucket(refillRate float64, bucketSize int64) *TokenBucket {
	if refillRate <= 0 {
		panic("refillRate must be positive")
	}
	if bucketSize <= 0 {
		panic("bucketSize must be positive")
	}
	return &TokenBucket{refillRate: refillRate, bucketSize: bucketSize}
}

// Allow reports whether a request for key may proceed, consuming a token
// if so.
func (tb *TokenBucket) Allow(key string) bool {
	if key == "" {
		return false
	}
	return tb.getOrCreateBucket(key).tryConsume(1)
}

func (tb *TokenBucket) getOrCreateBucket(key string) *bucket {
	if b, ok := tb.buckets.Load(key); ok {
		return b.(*bucket)
	}
	newBucket := &bucket{
		tokens:     tb.bucketSize,
		lastRefill: time.Now().UnixNano(),
		maxTokens:  tb.bucketSize,
		refillRate: tb.refillRate,
	}
	actual, _ := tb.buckets.LoadOrStore(key, newBucket)
	return actual.(*bucket)
}

func (b *bucket) tryConsume(n int64) bool {
	now := time.Now().UnixNano()
	for {
		currentTokens := atomic.LoadInt64(&b.tokens)
		lastRefill := atomic.LoadInt64(&b.lastRefill)

		elapsed := time.Duration(now - lastRefill)
		tokensToAdd := int64(b.refillRate * elapsed.Seconds())

		newTokens := currentTokens + tokensToAdd
		if newTokens > b.maxTokens {
			newTokens = b.maxTokens
		}
		if newTokens < n {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.tokens, currentTokens, newTokens-n) {
			atomic.StoreInt64(&b.lastRefill, now)
			return true
		}
	}
}
