package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleMetrics implements GET /metrics: the Prometheus text exposition
// format over the registry every collector in pkg/obs.Metrics was
// registered against.
func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
