package pipeline

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ratingproxy.app/config"
	"ratingproxy.app/keys"
	"ratingproxy.app/pkg/models"
	"ratingproxy.app/ratelimit"
)

// handleManifest implements GET /{configBlob}/manifest.json. The
// manifest describes the add-on's own catalogs/resources and carries no
// per-item ratings, so it is cached and served without ever touching the
// enricher.
func (s *Service) handleManifest(w http.ResponseWriter, r *http.Request, blob string) {
	ctx := r.Context()
	start := time.Now()
	defer func() { s.metrics.RequestLatency.WithLabelValues("manifest").Observe(time.Since(start).Seconds()) }()

	cfg, err := config.Decode(blob)
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	if !s.checkRateLimit(w, r, cfg, false) {
		return
	}

	key := keys.FormattedManifest(s.version, cfg)
	result, err := s.cache.GetOrCompute(ctx, key, keys.TTLDefault, func(ctx context.Context) ([]byte, error) {
		return s.fetchManifest(ctx, cfg)
	})
	if err != nil {
		kind := classifyErrKind(err)
		s.metrics.UpstreamErrors.WithLabelValues(kind).Inc()
		s.logger.Warn("manifest build failed", zap.String("kind", kind), zap.Error(err))
		w.Header().Set("X-Cache", "bypass")
		writeJSONError(w, http.StatusBadRequest, "failed to build manifest")
		return
	}
	s.respondCache(w, result)
}

func (s *Service) fetchManifest(ctx context.Context, cfg models.Config) ([]byte, error) {
	rawKey := keys.RawManifest(s.version, cfg.UpstreamBaseURL)
	return s.fetchRaw(ctx, rawKey, keys.TTLDefault, cfg.UpstreamBaseURL+"/manifest.json")
}

// fetchRaw checks the raw cache first, keyed independently of display
// config so two users with different formatting preferences share the
// same upstream fetch, otherwise fetches upstream and writes the raw
// response back asynchronously.
func (s *Service) fetchRaw(ctx context.Context, rawKey string, ttl time.Duration, url string) ([]byte, error) {
	if raw, ok := s.cache.GetJSON(ctx, rawKey); ok {
		return raw, nil
	}
	body, err := s.fetch.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSONAsync(ctx, rawKey, body, ttl)
	return body, nil
}

// checkRateLimit runs the rate limiter's check and writes its headers;
// it returns false (having already written the 429 response) when the
// request must stop.
func (s *Service) checkRateLimit(w http.ResponseWriter, r *http.Request, cfg models.Config, isSearch bool) bool {
	identity := ratelimit.Identity(r, cfg.UserID)
	tier := ratelimit.SelectTier(cfg.IsUserSpecific(), isSearch)
	decision := s.limiter.Check(r.Context(), identity, tier)
	ratelimit.ApplyHeaders(w, decision)
	if !decision.Allowed {
		s.metrics.RateLimited.WithLabelValues(string(tier)).Inc()
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}
