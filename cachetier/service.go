// Package cachetier implements the multi-tier cache: an L1 (in-process)
// plus L2 (remote) cascade, a process-global single-flight coalescer, and
// hot-key tracking, all fronted by one Service handle. It stores opaque
// gzip-compressed byte blobs rather than typed values, since callers
// cache already-serialized JSON response bodies, and it fails open on
// every L2 or compression error rather than surfacing them — a cache
// outage degrades to "always miss", never to a user-visible error.
package cachetier

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ratingproxy.app/pkg/obs"
	"ratingproxy.app/pkg/pubsub"
	"ratingproxy.app/pkg/store"
)

// Config controls the cache tier's behavior.
type Config struct {
	// Enabled is the global disable flag: when false, every read is a
	// miss and every write is a no-op, and callers must mark responses
	// "bypass" rather than "hit"/"miss".
	Enabled bool

	// Version is the global cache-version counter. Bumping it changes
	// every key's prefix, which invalidates all prior entries without an
	// explicit sweep.
	Version int

	L1MaxEntries int
	Redis        store.Config
}

// Service is the process-scoped cache tier handle, threaded through the
// pipeline, provider, and consolidator constructors.
type Service struct {
	cfg     Config
	l1      *l1Cache
	l2      remoteCache
	ssStore sortedSetStore
	hotKeys *hotKeyTracker
	flight  *coalescer
	logger  *zap.Logger
	metrics *obs.Metrics

	pingClient *redis.Client
}

// New builds the cache tier. If cfg.Enabled is false or no Redis address
// is configured, the tier still functions (L1 only, or entirely bypassed
// depending on cfg.Enabled) — fail-open extends to "no backing store
// configured at all", not just "backing store unreachable".
func New(cfg Config, logger *zap.Logger, metrics *obs.Metrics) (*Service, error) {
	svc := &Service{
		cfg:     cfg,
		l1:      newL1Cache(cfg.L1MaxEntries),
		flight:  newCoalescer(),
		logger:  logger,
		metrics: metrics,
	}

	if cfg.Enabled && len(cfg.Redis.Addrs) > 0 {
		clients, err := store.NewClients(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("cachetier: %w", err)
		}
		svc.l2 = newRedisCache(clients)

		var primary *redis.Client
		for _, client := range clients {
			primary = client
			break
		}
		svc.ssStore = primary
		svc.pingClient = primary
		svc.hotKeys = newHotKeyTracker(primary)

		for addr, client := range clients {
			h := store.Ping(context.Background(), client)
			if !h.Reachable {
				logger.Warn("cache store unreachable at startup", zap.String("addr", addr))
				continue
			}
			if h.Warning != "" {
				logger.Warn(h.Warning, zap.String("addr", addr))
			}
		}
	}

	return svc, nil
}

// Get returns the raw bytes stored under key, trying L1 then L2. Any
// failure is logged and treated as a miss: the cache tier never surfaces
// a cache-unavailable error to its caller.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}
	if v, ok := s.l1.Get(key); ok {
		s.trackHit(ctx, key)
		return v, true
	}
	if s.l2 == nil {
		return nil, false
	}
	v, err := s.l2.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			s.logger.Warn("cache L2 get failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	s.l1.Set(key, v, 30*time.Second)
	s.trackHit(ctx, key)
	return v, true
}

func (s *Service) trackHit(ctx context.Context, key string) {
	if s.hotKeys != nil {
		s.hotKeys.track(ctx, key)
	}
}

// Set writes value under key to both layers with ttl. Callers typically
// run this in a goroutine for an async write-back (see SetAsync); Set
// itself is synchronous and logs, rather than returns, an L2 write error.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !s.cfg.Enabled {
		return
	}
	s.l1.Set(key, value, ttl)
	if s.l2 == nil {
		return
	}
	if err := s.l2.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache L2 set failed", zap.String("key", key), zap.Error(err))
	}
}

// SetAsync fires Set in a new goroutine so the write-back never blocks
// the response being returned to the caller.
func (s *Service) SetAsync(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !s.cfg.Enabled {
		return
	}
	go s.Set(context.WithoutCancel(ctx), key, value, ttl)
}

// Delete removes key from both layers.
func (s *Service) Delete(ctx context.Context, key string) {
	s.l1.Delete(key)
	if s.l2 != nil {
		if err := s.l2.Delete(ctx, key); err != nil {
			s.logger.Warn("cache L2 delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Exists reports whether key is present in L1 or L2. An L1 hit moves the
// key to the front of the LRU order; hot-key accounting is not touched.
func (s *Service) Exists(ctx context.Context, key string) bool {
	if !s.cfg.Enabled {
		return false
	}
	if _, ok := s.l1.Get(key); ok {
		return true
	}
	if s.l2 == nil {
		return false
	}
	ok, err := s.l2.Exists(ctx, key)
	if err != nil {
		return false
	}
	return ok
}

// GetJSON decompresses and returns the JSON payload stored under key.
func (s *Service) GetJSON(ctx context.Context, key string) ([]byte, bool) {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return nil, false
	}
	data, err := decompress(raw)
	if err != nil {
		s.logger.Warn("cache entry failed to decompress, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// SetJSON compresses value and writes it under key.
func (s *Service) SetJSON(ctx context.Context, key string, value []byte, ttl time.Duration) {
	compressed, err := compress(value)
	if err != nil {
		s.logger.Warn("cache entry failed to compress, dropping write", zap.String("key", key), zap.Error(err))
		return
	}
	s.Set(ctx, key, compressed, ttl)
}

// SetJSONAsync is the async counterpart of SetJSON.
func (s *Service) SetJSONAsync(ctx context.Context, key string, value []byte, ttl time.Duration) {
	compressed, err := compress(value)
	if err != nil {
		s.logger.Warn("cache entry failed to compress, dropping write", zap.String("key", key), zap.Error(err))
		return
	}
	s.SetAsync(ctx, key, compressed, ttl)
}

// ComputeResult is GetOrCompute's outcome: where the bytes came from.
type ComputeResult struct {
	Value        []byte
	FromCache    bool
	WasCoalesced bool
}

// GetOrCompute is get-or-compute on top of the cache tier: a cache hit
// short-circuits before single-flight is ever entered; a miss enters the
// coalescer, and only the winner of the race actually calls compute and
// writes the result back.
func (s *Service) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) (ComputeResult, error) {
	if v, ok := s.GetJSON(ctx, key); ok {
		return ComputeResult{Value: v, FromCache: true}, nil
	}

	value, shared, err := s.flight.Do(key, func() ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.SetJSONAsync(ctx, key, v, ttl)
		return v, nil
	})
	if shared && s.metrics != nil {
		s.metrics.Coalesced.Inc()
	}
	if err != nil {
		return ComputeResult{}, err
	}
	return ComputeResult{Value: value, WasCoalesced: shared}, nil
}

// GetHot returns the top `limit` keys accessed over the last
// windowMinutes minutes, for the admin hot-key listing.
func (s *Service) GetHot(ctx context.Context, windowMinutes, limit int) []HotKey {
	if s.hotKeys == nil {
		return nil
	}
	return s.hotKeys.getHot(ctx, windowMinutes, limit)
}

// Ping reports the reachability and round-trip latency of the backing
// Redis store for /healthz's cache check. A disabled or storeless tier
// reports reachable (there is nothing to be unreachable), so it never
// fails the healthz check on its own.
func (s *Service) Ping(ctx context.Context) store.Health {
	if !s.cfg.Enabled || s.pingClient == nil {
		return store.Health{Reachable: true}
	}
	return store.Ping(ctx, s.pingClient)
}

// FlushPattern deletes every key matching pattern from this instance's L1
// and publishes an InvalidationEvent on CacheInvalidateTopic. No
// subscriber to that topic is registered in this module, so other
// instances' L1 entries are not evicted by it. L2 entries are not scanned
// or deleted; they expire via their own TTL.
func (s *Service) FlushPattern(ctx context.Context, pattern, triggeredBy, requestID string) (int, error) {
	count := s.l1.DeletePattern(pattern)

	event := &pubsub.InvalidationEvent{
		Version:     pubsub.EventVersion1,
		Pattern:     pattern,
		TriggeredBy: triggeredBy,
		TriggeredAt: time.Now(),
		RequestID:   requestID,
	}
	if err := event.Validate(); err == nil {
		if _, pubErr := CacheInvalidateTopic.Publish(ctx, event); pubErr != nil {
			s.logger.Warn("failed to publish invalidation event", zap.Error(pubErr))
		}
	}

	return count, nil
}

// Stats reports current tier state for the admin cache-statistics
// endpoint.
type Stats struct {
	Enabled   bool
	Version   int
	L1Entries int
}

func (s *Service) Stats() Stats {
	return Stats{Enabled: s.cfg.Enabled, Version: s.cfg.Version, L1Entries: s.l1.Size()}
}
