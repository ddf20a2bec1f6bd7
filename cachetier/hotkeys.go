package cachetier

import (
	"context"
	"strconv"
	"time"
)

// hotKeyTracker implements a windowed top-N counter of accessed cache
// keys. track is side-effect only; getHot merges the last N one-minute
// buckets and returns the top keys by count.
//
// Each minute gets its own sorted set (hotkeys:{minuteBucket}, scored by
// access count) so counts survive process restarts and are shared across
// instances, rather than an in-process circular buffer that would reset
// on every deploy and not add up across replicas.
type hotKeyTracker struct {
	store   sortedSetStore
	bucket  func(time.Time) int64
	ttl     time.Duration
}

func newHotKeyTracker(store sortedSetStore) *hotKeyTracker {
	return &hotKeyTracker{
		store:  store,
		bucket: minuteBucket,
		ttl:    2 * time.Hour,
	}
}

func minuteBucket(t time.Time) int64 {
	return t.Unix() / 60
}

// track increments key's counter in the current minute bucket. Failures
// are swallowed: hot-key accounting is best-effort observability, never
// allowed to affect the request path.
func (h *hotKeyTracker) track(ctx context.Context, key string) {
	if h.store == nil {
		return
	}
	bucketKey := hotKeyBucketKey(h.bucket(time.Now()))
	h.store.ZIncrBy(ctx, bucketKey, 1, key)
	h.store.Expire(ctx, bucketKey, h.ttl)
}

// HotKey is one entry of the top-N result.
type HotKey struct {
	Key   string
	Count int64
}

// getHot merges the last windowMinutes one-minute buckets and returns the
// top `limit` keys by total count, descending.
func (h *hotKeyTracker) getHot(ctx context.Context, windowMinutes int, limit int) []HotKey {
	if h.store == nil || windowMinutes <= 0 || limit <= 0 {
		return nil
	}
	now := h.bucket(time.Now())
	totals := make(map[string]int64)
	for i := 0; i < windowMinutes; i++ {
		bucketKey := hotKeyBucketKey(now - int64(i))
		zs, err := h.store.ZRevRangeWithScores(ctx, bucketKey, 0, -1).Result()
		if err != nil {
			continue
		}
		for _, z := range zs {
			member, ok := z.Member.(string)
			if !ok {
				continue
			}
			totals[member] += int64(z.Score)
		}
	}
	return topN(totals, limit)
}

func topN(totals map[string]int64, limit int) []HotKey {
	out := make([]HotKey, 0, len(totals))
	for k, v := range totals {
		out = append(out, HotKey{Key: k, Count: v})
	}
	// simple insertion sort: N is expected to be small (top few dozen keys)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Count < out[j].Count {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hotKeyBucketKey(bucket int64) string {
	return "hotkeys:" + strconv.FormatInt(bucket, 10)
}
