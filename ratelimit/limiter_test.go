package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, policies map[Tier]Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(Config{Policies: policies, Version: 1}, client, zap.NewNop())
	return l, mr
}

func TestLimiter_AdmitsUnderBurst(t *testing.T) {
	l, _ := newTestLimiter(t, map[Tier]Policy{
		TierAnonymousStandard: {RPS: 100, Burst: 3},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Check(ctx, "anonymous:1.2.3.4", TierAnonymousStandard)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
	}
}

func TestLimiter_RejectsOverBurst(t *testing.T) {
	l, _ := newTestLimiter(t, map[Tier]Policy{
		TierAnonymousStandard: {RPS: 100, Burst: 2},
	})
	ctx := context.Background()

	require.True(t, l.Check(ctx, "anonymous:1.2.3.4", TierAnonymousStandard).Allowed)
	require.True(t, l.Check(ctx, "anonymous:1.2.3.4", TierAnonymousStandard).Allowed)

	d := l.Check(ctx, "anonymous:1.2.3.4", TierAnonymousStandard)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter.Seconds(), 0.0)
}

func TestLimiter_IsolatesByIdentity(t *testing.T) {
	l, _ := newTestLimiter(t, map[Tier]Policy{
		TierAnonymousStandard: {RPS: 100, Burst: 1},
	})
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "anonymous:1.1.1.1", TierAnonymousStandard).Allowed)
	assert.True(t, l.Check(ctx, "anonymous:2.2.2.2", TierAnonymousStandard).Allowed)
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	l, mr := newTestLimiter(t, map[Tier]Policy{
		TierAnonymousStandard: {RPS: 100, Burst: 1},
	})
	ctx := context.Background()

	require.True(t, l.Check(ctx, "anonymous:9.9.9.9", TierAnonymousStandard).Allowed)
	mr.Close()

	d := l.Check(ctx, "anonymous:9.9.9.9", TierAnonymousStandard)
	assert.True(t, d.Allowed, "store failure must fail open")
}

func TestIdentity_PrefersUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "authenticated:u1", Identity(r, "u1"))
}

func TestIdentity_ForwardedHeaderPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.1")
	assert.Equal(t, "anonymous:203.0.113.5", Identity(r, ""))
}

func TestIdentity_FallsBackThroughHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.1")
	assert.Equal(t, "anonymous:198.51.100.1", Identity(r, ""))
}

func TestIdentity_NormalizesLoopback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[::1]:12345"
	assert.Equal(t, "anonymous:127.0.0.1", Identity(r, ""))
}

func TestSelectTier(t *testing.T) {
	assert.Equal(t, TierAnonymousStandard, SelectTier(false, false))
	assert.Equal(t, TierAnonymousSearch, SelectTier(false, true))
	assert.Equal(t, TierAuthenticatedStd, SelectTier(true, false))
	assert.Equal(t, TierAuthenticatedSearch, SelectTier(true, true))
}
