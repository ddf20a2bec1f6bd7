package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ratingproxy.app/config"
	"ratingproxy.app/keys"
	"ratingproxy.app/pkg/models"
)

// handleCatalog implements GET /{configBlob}/catalog/{type}/{id}.json and
// its /{extra}.json variant.
func (s *Service) handleCatalog(w http.ResponseWriter, r *http.Request, blob, catalogType, catalogID, extra string) {
	ctx := r.Context()
	start := time.Now()
	defer func() { s.metrics.RequestLatency.WithLabelValues("catalog").Observe(time.Since(start).Seconds()) }()

	cfg, err := config.Decode(blob)
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	params, isSearch := parseCatalogParams(extra, cfg)
	if !s.checkRateLimit(w, r, cfg, keys.IsSearchRoute(catalogID, isSearch)) {
		return
	}

	ttl := keys.CatalogTTL(catalogID, cfg.IsUserSpecific())
	key := keys.FormattedCatalog(s.version, cfg, catalogType, catalogID, params)

	result, err := s.cache.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		return s.buildCatalog(ctx, cfg, catalogType, catalogID, params, ttl)
	})
	if err != nil {
		s.writeUpstreamFallback(w, "catalog", err, []byte(`{"metas":[]}`))
		return
	}
	s.respondCache(w, result)
}

func (s *Service) buildCatalog(ctx context.Context, cfg models.Config, catalogType, catalogID string, params keys.CatalogParams, ttl time.Duration) ([]byte, error) {
	rawKey := keys.RawCatalog(s.version, cfg.UpstreamBaseURL, catalogType, catalogID, params)
	body, err := s.fetchRaw(ctx, rawKey, ttl, s.upstreamCatalogURL(cfg, catalogType, catalogID, params))
	if err != nil {
		return nil, err
	}

	doc, items, err := decodeCatalogDoc(body)
	if err != nil {
		return nil, models.NewError(models.KindUpstreamServer, fmt.Errorf("catalog: %w", err))
	}

	if cfg.RatingsEnabled {
		ids := s.enricher.SupportedIDs(items)
		ratings := s.consolidator.ConsolidateBatch(ctx, ids, 10, s.ratingLookup(cfg))
		lookup := func(_ context.Context, id string) *models.ConsolidatedRating { return ratings[id] }
		items = s.enricher.EnrichCatalog(ctx, cfg, items, lookup)
	}

	return encodeCatalogDoc(doc, items)
}

func (s *Service) upstreamCatalogURL(cfg models.Config, catalogType, catalogID string, p keys.CatalogParams) string {
	u := fmt.Sprintf("%s/catalog/%s/%s.json", cfg.UpstreamBaseURL, url.PathEscape(catalogType), url.PathEscape(catalogID))
	q := url.Values{}
	if p.Page != "" {
		q.Set("skip", p.Page)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Genre != "" {
		q.Set("genre", p.Genre)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// parseCatalogParams reads the optional extra path segment
// ("k=v&k=v…", already path-unescaped) as a query string, and reports
// whether this request counts as a search route for rate-limit tiering.
func parseCatalogParams(extra string, cfg models.Config) (keys.CatalogParams, bool) {
	params := keys.CatalogParams{}
	if cfg.IsUserSpecific() {
		params.UserID = cfg.UserID
	}
	if extra == "" {
		return params, false
	}
	values, err := url.ParseQuery(extra)
	if err != nil {
		return params, false
	}
	params.Page = values.Get("skip")
	params.Genre = values.Get("genre")
	params.Search = values.Get("search")
	return params, params.Search != ""
}
