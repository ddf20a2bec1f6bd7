// Package pipeline implements the request pipeline: the three public
// handler shapes (manifest, catalog, meta), the admin surface, and
// /healthz and /metrics, composed from the config codec, key builder,
// cache tier, rate limiter, fetcher, providers, consolidator, and
// enricher.
//
// Every dependency is built once in initService and held on a single
// process-scoped Service struct threaded through every handler, rather
// than passed as loose arguments.
package pipeline

import (
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/consolidate"
	"ratingproxy.app/enrich"
	"ratingproxy.app/fetcher"
	"ratingproxy.app/pkg/obs"
	"ratingproxy.app/pkg/store"
	"ratingproxy.app/providers"
	"ratingproxy.app/ratelimit"
)

// ratingSource names one provider for the rating-lookup fan-out; the
// provider itself already knows its own scale (set at construction in
// providers.NewPrimaryRating and friends), so ratingSource need only
// carry the name used for consolidate.Source.Name and filtering.
type ratingSource struct {
	name string
	p    *providers.Provider
}

//encore:service
type Service struct {
	logger   *zap.Logger
	metrics  *obs.Metrics
	registry *prometheus.Registry

	cache   *cachetier.Service
	limiter *ratelimit.Limiter
	fetch   *fetcher.Fetcher

	ratingSources  []ratingSource
	episodeSources []ratingSource
	certification  *providers.Provider

	consolidator *consolidate.Consolidator
	enricher     *enrich.Enricher

	adminSecret     string
	version         int
	providerPingURL string
}

func initService() (*Service, error) {
	logger := obs.NewLogger()
	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	version := envInt("CACHE_VERSION", 1)
	redisAddrs := store.ParseAddrs(os.Getenv("CACHE_STORE_URL"))

	cache, err := cachetier.New(cachetier.Config{
		Enabled:      len(redisAddrs) > 0,
		Version:      version,
		L1MaxEntries: envInt("CACHE_L1_MAX_ENTRIES", 10000),
		Redis:        store.Config{Addrs: redisAddrs},
	}, logger, metrics)
	if err != nil {
		return nil, err
	}

	rlCfg := ratelimit.Config{
		Version: version,
		Policies: map[ratelimit.Tier]ratelimit.Policy{
			ratelimit.TierAnonymousStandard:    {RPS: envFloat("RATE_ANON_STANDARD_RPS", 5), Burst: int64(envInt("RATE_ANON_STANDARD_BURST", 10))},
			ratelimit.TierAnonymousSearch:       {RPS: envFloat("RATE_ANON_SEARCH_RPS", 2), Burst: int64(envInt("RATE_ANON_SEARCH_BURST", 4))},
			ratelimit.TierAuthenticatedStd:      {RPS: envFloat("RATE_AUTH_STANDARD_RPS", 10), Burst: int64(envInt("RATE_AUTH_STANDARD_BURST", 20))},
			ratelimit.TierAuthenticatedSearch:   {RPS: envFloat("RATE_AUTH_SEARCH_RPS", 5), Burst: int64(envInt("RATE_AUTH_SEARCH_BURST", 10))},
		},
	}

	var limiter *ratelimit.Limiter
	if len(redisAddrs) > 0 {
		clients, clientErr := store.NewClients(store.Config{Addrs: redisAddrs})
		if clientErr != nil {
			return nil, clientErr
		}
		var primary *redis.Client
		for _, c := range clients {
			primary = c
			break
		}
		limiter = ratelimit.New(rlCfg, primary, logger)
	} else {
		limiter = ratelimit.New(rlCfg, nil, logger)
	}

	fetch := fetcher.New(fetcher.DefaultConfig(), logger)

	ratingsBaseURL := envStr("RATINGS_SERVICE_URL", "https://ratings.internal")
	animeBaseURL := envStr("ANIME_RATINGS_SERVICE_URL", ratingsBaseURL)

	primary := providers.NewPrimaryRating(ratingsBaseURL, fetch, cache, logger)
	episode := providers.NewEpisodeRating(ratingsBaseURL, fetch, cache, logger)
	aggregated := providers.NewAggregatedMeta(ratingsBaseURL, fetch, cache, logger)
	animeList := providers.NewAnimeList(animeBaseURL, fetch, cache, logger)
	certification := providers.NewCertification(ratingsBaseURL, fetch, cache, logger)

	return &Service{
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		cache:    cache,
		limiter:  limiter,
		fetch:    fetch,
		ratingSources: []ratingSource{
			{name: "primary", p: primary},
			{name: "aggregated", p: aggregated},
			{name: "anime-list", p: animeList},
		},
		episodeSources: []ratingSource{
			{name: "episode", p: episode},
		},
		certification: certification,
		consolidator:    consolidate.New(),
		enricher:        enrich.New(envInt("ENRICH_CONCURRENCY", 10)),
		adminSecret:     os.Getenv("ADMIN_SECRET"),
		version:         version,
		providerPingURL: ratingsBaseURL,
	}, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
