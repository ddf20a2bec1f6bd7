package pipeline

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/fetcher"
	"ratingproxy.app/pkg/models"
)

// classifyErrKind names the failure for metrics/logging, looking first
// for a sum-typed *models.Error and falling back to the fetcher's own
// *fetcher.Error classification.
func classifyErrKind(err error) string {
	if me, ok := models.AsError(err); ok {
		return me.Kind.String()
	}
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fetcher.ErrTimeout:
			return "UpstreamTimeout"
		case fetcher.ErrClient4xx:
			return "UpstreamClient"
		case fetcher.ErrServer5xx:
			return "UpstreamServer"
		case fetcher.ErrNetwork:
			return "UpstreamNetwork"
		}
	}
	return "Internal"
}

// writeConfigError maps a config.Decode failure to its HTTP response
// (always 400: the blob itself, not the upstream, is at fault).
func (s *Service) writeConfigError(w http.ResponseWriter, err error) {
	w.Header().Set("X-Cache", "bypass")
	msg := "invalid configuration"
	if me, ok := models.AsError(err); ok {
		msg = me.Error()
	}
	writeJSONError(w, http.StatusBadRequest, msg)
}

// writeUpstreamFallback serves a shape-preserving fallback body (empty
// catalog, null meta) with a 200 so the calling client's JSON parser
// never sees a broken contract — internal failures degrade the response
// shape, not the status code, except for manifest, whose caller uses
// writeConfigError-style 400 handling directly.
func (s *Service) writeUpstreamFallback(w http.ResponseWriter, handler string, err error, fallback []byte) {
	kind := classifyErrKind(err)
	s.metrics.UpstreamErrors.WithLabelValues(kind).Inc()
	s.logger.Warn("serving fallback response", zap.String("handler", handler), zap.String("kind", kind), zap.Error(err))

	w.Header().Set("X-Cache", "bypass")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(fallback)
}

func (s *Service) respondCache(w http.ResponseWriter, result cachetier.ComputeResult) {
	status := "miss"
	switch {
	case !s.cache.Stats().Enabled:
		status = "bypass"
		s.metrics.CacheBypass.Inc()
	case result.FromCache:
		status = "hit"
		s.metrics.CacheHits.WithLabelValues("formatted").Inc()
	default:
		s.metrics.CacheMisses.WithLabelValues("formatted").Inc()
	}
	w.Header().Set("X-Cache", status)
	w.Header().Set("Content-Type", "application/json")
	w.Write(result.Value)
}
