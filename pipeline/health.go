package pipeline

import (
	"context"
	"net/http"
	"time"
)

type checkStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthStatus struct {
	Status string `json:"status"`
	Checks struct {
		Cache    checkStatus `json:"cache"`
		Provider checkStatus `json:"provider"`
	} `json:"checks"`
	DurationMS int64 `json:"duration_ms"`
}

const healthzTimeout = 2 * time.Second

// handleHealthz implements GET /healthz: it pings the cache store and the
// upstream ratings service, reporting 200 when both (or, for cache, the
// tier being intentionally disabled) are healthy and 503 when either is
// down.
func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
	defer cancel()

	var resp healthStatus
	resp.Checks.Cache = s.checkCache(ctx)
	resp.Checks.Provider = s.checkProvider(ctx)
	resp.DurationMS = time.Since(start).Milliseconds()

	if resp.Checks.Cache.Status == "down" || resp.Checks.Provider.Status == "down" {
		resp.Status = "down"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "ok"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) checkCache(ctx context.Context) checkStatus {
	stats := s.cache.Stats()
	if !stats.Enabled {
		return checkStatus{Status: "disabled"}
	}
	health := s.cache.Ping(ctx)
	if !health.Reachable {
		return checkStatus{Status: "down"}
	}
	return checkStatus{Status: "ok", LatencyMS: health.LatencyMS}
}

func (s *Service) checkProvider(ctx context.Context) checkStatus {
	if s.providerPingURL == "" {
		return checkStatus{Status: "disabled"}
	}
	reachable, latencyMS := s.fetch.Ping(ctx, s.providerPingURL)
	if !reachable {
		return checkStatus{Status: "down", LatencyMS: latencyMS}
	}
	return checkStatus{Status: "ok", LatencyMS: latencyMS}
}
