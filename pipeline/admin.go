package pipeline

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/pkg/obs"
	ptypes "ratingproxy.app/pkg/pubsub"
)

// handleAdmin implements the basic-auth-gated admin surface: hot-key
// listing, cache statistics, pattern-based flush, and the rebuild
// trigger forwarded to the external ratings database service.
func (s *Service) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	if !s.authorizeAdmin(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}

	switch parts[0] {
	case "hotkeys":
		s.handleAdminHotKeys(w, r)
	case "stats":
		s.handleAdminStats(w, r)
	case "flush":
		s.handleAdminFlush(w, r)
	case "rebuild":
		s.handleAdminRebuild(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Service) authorizeAdmin(r *http.Request) bool {
	if s.adminSecret == "" {
		return false
	}
	_, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.adminSecret)) == 1
}

func (s *Service) handleAdminHotKeys(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 5)
	limit := queryInt(r, "limit", 20)
	hot := s.cache.GetHot(r.Context(), window, limit)
	writeJSON(w, http.StatusOK, map[string]any{"windowMinutes": window, "keys": hot})
}

func (s *Service) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Service) handleAdminFlush(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSONError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	count, err := s.cache.FlushPattern(r.Context(), pattern, adminActor(r), obs.RequestIDFromContext(r.Context()))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "evicted": count})
}

func (s *Service) handleAdminRebuild(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope string `json:"scope"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Scope == "" {
		body.Scope = "all"
	}

	event := &ptypes.RebuildTriggeredEvent{
		Version:     ptypes.EventVersion1,
		Scope:       body.Scope,
		TriggeredBy: adminActor(r),
		TriggeredAt: time.Now(),
		RequestID:   obs.RequestIDFromContext(r.Context()),
	}
	if err := event.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := cachetier.RebuildTriggeredTopic.Publish(r.Context(), event); err != nil {
		s.logger.Error("failed to publish rebuild trigger", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to publish rebuild trigger")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "scope": body.Scope})
}

func adminActor(r *http.Request) string {
	user, _, ok := r.BasicAuth()
	if ok && user != "" {
		return user
	}
	return "admin"
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
