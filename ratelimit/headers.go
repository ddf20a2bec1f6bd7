package ratelimit

import (
	"net/http"
	"strconv"
)

// ApplyHeaders sets X-RateLimit-{Limit,Remaining,Reset}, and on reject,
// Retry-After.
func ApplyHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max64(d.Remaining, 0), 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnix, 10))
	if !d.Allowed {
		seconds := int64(d.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
