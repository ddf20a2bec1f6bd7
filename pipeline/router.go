package pipeline

import (
	"net/http"
	"strings"
)

// This module's public surface needs three things no typed Encore
// endpoint can give it at once: an arbitrary first path segment (the
// config blob, opaque to Encore's router), a JSON body shaped however the
// upstream shaped it, and custom headers (X-Cache, X-RateLimit-*,
// Retry-After) on every response including rejected ones. Every endpoint
// below is therefore declared raw, using Encore's `*rest` wildcard
// segment where a route's tail is variable-length (catalog's optional
// /{extra}.json, admin's sub-resources), and path-parses its own request
// rather than receiving typed arguments.

func pathSegments(r *http.Request) []string {
	return strings.Split(strings.Trim(r.URL.Path, "/"), "/")
}

// HandleManifest serves GET /{configBlob}/manifest.json.
//
//encore:api public raw method=GET path=/:configBlob/manifest.json
func (s *Service) HandleManifest(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	segs := pathSegments(r)
	if len(segs) != 2 {
		http.NotFound(w, r)
		return
	}
	s.handleManifest(w, r, segs[0])
}

// HandleCatalog serves GET /{configBlob}/catalog/{type}/{id}.json and its
// /{extra}.json variant.
//
//encore:api public raw method=GET path=/:configBlob/catalog/*rest
func (s *Service) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	segs := pathSegments(r)
	switch len(segs) {
	case 4:
		s.handleCatalog(w, r, segs[0], segs[2], strings.TrimSuffix(segs[3], ".json"), "")
	case 5:
		s.handleCatalog(w, r, segs[0], segs[2], segs[3], strings.TrimSuffix(segs[4], ".json"))
	default:
		http.NotFound(w, r)
	}
}

// HandleMeta serves GET /{configBlob}/meta/{type}/{id}.json.
//
//encore:api public raw method=GET path=/:configBlob/meta/*rest
func (s *Service) HandleMeta(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	segs := pathSegments(r)
	if len(segs) != 4 {
		http.NotFound(w, r)
		return
	}
	s.handleMeta(w, r, segs[0], segs[2], strings.TrimSuffix(segs[3], ".json"))
}

// HandleHealthz serves GET /healthz.
//
//encore:api public raw method=GET path=/healthz
func (s *Service) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	s.handleHealthz(w, r)
}

// HandleMetrics serves GET /metrics.
//
//encore:api public raw method=GET path=/metrics
func (s *Service) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	s.handleMetrics(w, r)
}

// HandleAdminGet serves the read-only admin routes (hotkeys, stats).
//
//encore:api public raw method=GET path=/admin/*rest
func (s *Service) HandleAdminGet(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	segs := pathSegments(r)
	s.handleAdmin(w, r, segs[1:])
}

// HandleAdminPost serves the mutating admin routes (flush, rebuild).
//
//encore:api public raw method=POST path=/admin/*rest
func (s *Service) HandleAdminPost(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	segs := pathSegments(r)
	s.handleAdmin(w, r, segs[1:])
}

func applyCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	allowHeaders := "Content-Type"
	if strings.HasPrefix(strings.Trim(r.URL.Path, "/"), "admin") {
		allowHeaders += ", Authorization"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
}
