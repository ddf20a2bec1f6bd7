// Package ratelimit implements the rate limiter: a Redis
// sorted-set-backed sliding window, fronted by an in-process token-bucket
// pre-check (pkg/middleware), plus the identity- and tier-selection
// rules.
//
// The sliding window is a plain ZADD/ZREMRANGEBYSCORE/ZCARD sequence
// against the same Redis deployment the cache tier uses, through its own
// client: drop entries older
// than the window, count what remains, and admit only if under burst.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Tier names identity + route class: anonymous/authenticated crossed
// with standard/search, each with its own rps/burst policy.
type Tier string

const (
	TierAnonymousStandard    Tier = "anon-standard"
	TierAnonymousSearch      Tier = "anon-search"
	TierAuthenticatedStd     Tier = "auth-standard"
	TierAuthenticatedSearch  Tier = "auth-search"
)

// Identity resolves to "authenticated:{userId}" when userID is non-empty,
// otherwise "anonymous:{normalizedIP}" derived from r: the first
// X-Forwarded-For entry, then X-Real-IP, then CF-Connecting-IP, then the
// socket's remote address.
func Identity(r *http.Request, userID string) string {
	if userID != "" {
		return "authenticated:" + userID
	}
	return "anonymous:" + normalizeIP(clientIP(r))
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return strings.TrimSpace(cf)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// normalizeIP strips an IPv4-mapped IPv6 prefix and collapses every
// localhost spelling to one canonical form, so "::1", "127.0.0.1" and
// "::ffff:127.0.0.1" all rate-limit as the same identity.
func normalizeIP(ip string) string {
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if parsed.IsLoopback() {
		return "127.0.0.1"
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}

// SelectTier applies the search-route rule: a route is "search" when the
// catalog id contains "search" or a search query parameter is present;
// search uses stricter limits.
func SelectTier(authenticated, isSearch bool) Tier {
	switch {
	case authenticated && isSearch:
		return TierAuthenticatedSearch
	case authenticated:
		return TierAuthenticatedStd
	case isSearch:
		return TierAnonymousSearch
	default:
		return TierAnonymousStandard
	}
}
