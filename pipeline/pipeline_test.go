package pipeline

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/consolidate"
	"ratingproxy.app/enrich"
	"ratingproxy.app/fetcher"
	"ratingproxy.app/pkg/obs"
	"ratingproxy.app/providers"
	"ratingproxy.app/ratelimit"
)

// testService builds a *Service wired against upstream (a fake add-on
// origin) with the cache tier disabled (every response is bypass), a
// generous rate-limit
// policy, and no rating sources, mirroring initService's wiring without
// Encore's own process bootstrap.
func testService(t *testing.T, upstream *httptest.Server) *Service {
	t.Helper()
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	cache, err := cachetier.New(cachetier.Config{Enabled: false, Version: 1, L1MaxEntries: 1000}, logger, metrics)
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.Config{
		Version: 1,
		Policies: map[ratelimit.Tier]ratelimit.Policy{
			ratelimit.TierAnonymousStandard:  {RPS: 1000, Burst: 1000},
			ratelimit.TierAnonymousSearch:    {RPS: 1000, Burst: 1000},
			ratelimit.TierAuthenticatedStd:   {RPS: 1000, Burst: 1000},
			ratelimit.TierAuthenticatedSearch: {RPS: 1000, Burst: 1000},
		},
	}, nil, logger)

	return &Service{
		logger:       logger,
		metrics:      metrics,
		registry:     registry,
		cache:        cache,
		limiter:      limiter,
		fetch:        fetcher.New(fetcher.DefaultConfig(), logger),
		consolidator: consolidate.New(),
		enricher:     enrich.New(4),
		adminSecret:  "s3cret",
		version:      1,
	}
}

// configBlob base64url-encodes a minimal config JSON pointing at upstream,
// the shape pipeline/manifest.go's config.Decode expects.
func configBlob(t *testing.T, upstream string, extra map[string]any) string {
	t.Helper()
	body := map[string]any{
		"upstreamBaseURL": upstream,
		"region":          "US",
	}
	for k, v := range extra {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestHandleManifest_ColdThenWarm(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"id":"org.example","name":"Example","resources":["catalog"]}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	blob := configBlob(t, upstream.URL, nil)

	r1 := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
	w1 := httptest.NewRecorder()
	s.HandleManifest(w1, r1)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "bypass", w1.Header().Get("X-Cache"), "cache tier is disabled in this test, every response is bypass")
	assert.Contains(t, w1.Body.String(), "org.example")

	r2 := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
	w2 := httptest.NewRecorder()
	s.HandleManifest(w2, r2)
	require.Equal(t, http.StatusOK, w2.Code)

	assert.Equal(t, 2, calls, "cache tier is disabled, so both requests reach upstream")
}

func TestHandleManifest_CachesAcrossRequestsWhenEnabled(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"id":"org.example","name":"Example"}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	logger := zap.NewNop()
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	cache, err := cachetier.New(cachetier.Config{Enabled: true, Version: 1, L1MaxEntries: 1000}, logger, metrics)
	require.NoError(t, err)
	s.cache = cache
	s.metrics = metrics

	blob := configBlob(t, upstream.URL, nil)

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
		w := httptest.NewRecorder()
		s.HandleManifest(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		if i == 0 {
			assert.Equal(t, "miss", w.Header().Get("X-Cache"))
		} else {
			assert.Equal(t, "hit", w.Header().Get("X-Cache"))
		}
	}
	assert.Equal(t, 1, calls, "warm requests must not reach upstream again")
}

func TestHandleCatalog_ColdBuildWithRatingsDisabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metas":[{"id":"tt1","type":"movie","name":"A Movie"}]}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	blob := configBlob(t, upstream.URL, map[string]any{"ratingsEnabled": false})

	r := httptest.NewRequest(http.MethodGet, "/"+blob+"/catalog/movie/top.json", nil)
	w := httptest.NewRecorder()
	s.HandleCatalog(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	metas, ok := doc["metas"].([]any)
	require.True(t, ok)
	require.Len(t, metas, 1)
}

func TestHandleCatalog_NormalizesLegacyMetasDetailed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metasDetailed":[{"id":"tt1","type":"movie","name":"A Movie"}]}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	blob := configBlob(t, upstream.URL, map[string]any{"ratingsEnabled": false})

	r := httptest.NewRequest(http.MethodGet, "/"+blob+"/catalog/movie/top.json", nil)
	w := httptest.NewRecorder()
	s.HandleCatalog(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	_, hasLegacy := doc["metasDetailed"]
	assert.False(t, hasLegacy)
	metas, ok := doc["metas"].([]any)
	require.True(t, ok)
	require.Len(t, metas, 1)
}

func TestHandleCatalog_UpstreamFailureFallsBackToEmptyShape(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	s.fetch = fetcher.New(fetcher.Config{Timeout: fetcher.DefaultConfig().Timeout, Retries: 1}, zap.NewNop())
	blob := configBlob(t, upstream.URL, map[string]any{"ratingsEnabled": false})

	r := httptest.NewRequest(http.MethodGet, "/"+blob+"/catalog/movie/top.json", nil)
	w := httptest.NewRecorder()
	s.HandleCatalog(w, r)

	require.Equal(t, http.StatusOK, w.Code, "upstream failures degrade the response shape, not the status code")
	assert.JSONEq(t, `{"metas":[]}`, w.Body.String())
	assert.Equal(t, "bypass", w.Header().Get("X-Cache"))
}

func TestHandleMeta_UpstreamFailureFallsBackToNullMeta(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	s.fetch = fetcher.New(fetcher.Config{Timeout: fetcher.DefaultConfig().Timeout, Retries: 1}, zap.NewNop())
	blob := configBlob(t, upstream.URL, map[string]any{"ratingsEnabled": false})

	r := httptest.NewRequest(http.MethodGet, "/"+blob+"/meta/movie/tt1.json", nil)
	w := httptest.NewRecorder()
	s.HandleMeta(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"meta":null}`, w.Body.String())
}

func TestHandleManifest_InvalidConfigBlobReturns400(t *testing.T) {
	s := testService(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	r := httptest.NewRequest(http.MethodGet, "/not-valid-base64/manifest.json", nil)
	w := httptest.NewRecorder()
	s.HandleManifest(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bypass", w.Header().Get("X-Cache"))
}

func TestHandleManifest_RateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"org.example"}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	s.limiter = ratelimit.New(ratelimit.Config{
		Version: 1,
		Policies: map[ratelimit.Tier]ratelimit.Policy{
			ratelimit.TierAnonymousStandard: {RPS: 1000, Burst: 1},
		},
	}, nil, zap.NewNop())

	blob := configBlob(t, upstream.URL, nil)

	r1 := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
	w1 := httptest.NewRecorder()
	s.HandleManifest(w1, r1)
	require.Equal(t, http.StatusOK, w1.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
	w2 := httptest.NewRecorder()
	s.HandleManifest(w2, r2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.NotEmpty(t, w2.Header().Get("Retry-After"))
}

func TestHandleManifest_CoalescesConcurrentRequests(t *testing.T) {
	calls := make(chan struct{}, 64)
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
		<-release
		w.Write([]byte(`{"id":"org.example"}`))
	}))
	defer upstream.Close()

	s := testService(t, upstream)
	logger := zap.NewNop()
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	cache, err := cachetier.New(cachetier.Config{Enabled: true, Version: 1, L1MaxEntries: 1000}, logger, metrics)
	require.NoError(t, err)
	s.cache = cache
	s.metrics = metrics

	blob := configBlob(t, upstream.URL, nil)

	const n = 50
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			r := httptest.NewRequest(http.MethodGet, "/"+blob+"/manifest.json", nil)
			w := httptest.NewRecorder()
			s.HandleManifest(w, r)
			results <- w.Code
		}()
	}

	require.Eventually(t, func() bool { return len(calls) == 1 }, time.Second, time.Millisecond, "exactly one request should reach upstream before the rest coalesce on it")
	close(release)

	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, <-results)
	}
}

func TestHandleCatalog_EnrichesTitleWithConsolidatedRating(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metas":[{"id":"tt1","type":"movie","name":"A Movie"}]}`))
	}))
	defer upstream.Close()

	ratingsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"found":true,"score":8.4,"scale":10,"voteCount":1200}`))
	}))
	defer ratingsSrv.Close()

	s := testService(t, upstream)
	s.ratingSources = []ratingSource{
		{name: "primary", p: providers.NewPrimaryRating(ratingsSrv.URL, s.fetch, s.cache, s.logger)},
	}
	s.certification = providers.NewCertification(ratingsSrv.URL, s.fetch, s.cache, s.logger)

	blob := configBlob(t, upstream.URL, map[string]any{
		"ratingsEnabled": true,
		"injectLocation": "title",
		"titleFormat":    map[string]any{"applyToCatalog": true, "position": "prefix", "template": "★ {rating}"},
	})

	r := httptest.NewRequest(http.MethodGet, "/"+blob+"/catalog/movie/top.json", nil)
	w := httptest.NewRecorder()
	s.HandleCatalog(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	metas := doc["metas"].([]any)
	require.Len(t, metas, 1)
	name := metas[0].(map[string]any)["name"].(string)
	assert.Contains(t, name, "8.4", "the enriched title should carry the consolidated score")
	assert.Contains(t, name, "A Movie")
}

func TestHandleAdmin_RequiresAuth(t *testing.T) {
	s := testService(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	s.HandleAdminGet(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleAdmin_StatsWithAuth(t *testing.T) {
	s := testService(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r.SetBasicAuth("admin", "s3cret")
	w := httptest.NewRecorder()
	s.HandleAdminGet(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleAdmin_FlushRequiresPattern(t *testing.T) {
	s := testService(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	r := httptest.NewRequest(http.MethodPost, "/admin/flush", nil)
	r.SetBasicAuth("admin", "s3cret")
	w := httptest.NewRecorder()
	s.HandleAdminPost(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealthz(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	s := testService(t, upstream)
	s.providerPingURL = upstream.URL

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.HandleHealthz(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	var body healthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "disabled", body.Checks.Cache.Status)
	assert.Equal(t, "ok", body.Checks.Provider.Status)
}

func TestHandleHealthz_ProviderDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	s := testService(t, upstream)
	s.providerPingURL = "http://127.0.0.1:1" // nothing listens here

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.HandleHealthz(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body healthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "down", body.Status)
	assert.Equal(t, "down", body.Checks.Provider.Status)
}

func TestHandleMetrics_ExposesPrometheusFormat(t *testing.T) {
	s := testService(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.HandleMetrics(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}
