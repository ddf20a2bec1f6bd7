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

// handleMeta implements GET /{configBlob}/meta/{type}/{id}.json.
func (s *Service) handleMeta(w http.ResponseWriter, r *http.Request, blob, metaType, id string) {
	ctx := r.Context()
	start := time.Now()
	defer func() { s.metrics.RequestLatency.WithLabelValues("meta").Observe(time.Since(start).Seconds()) }()

	cfg, err := config.Decode(blob)
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	if !s.checkRateLimit(w, r, cfg, false) {
		return
	}

	ttl := keys.TTLDefault
	if cfg.IsUserSpecific() {
		ttl = keys.TTLUserSpecific
	}
	key := keys.FormattedMeta(s.version, cfg, metaType, id)

	result, err := s.cache.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		return s.buildMeta(ctx, cfg, metaType, id, ttl)
	})
	if err != nil {
		s.writeUpstreamFallback(w, "meta", err, []byte(`{"meta":null}`))
		return
	}
	s.respondCache(w, result)
}

func (s *Service) buildMeta(ctx context.Context, cfg models.Config, metaType, id string, ttl time.Duration) ([]byte, error) {
	rawKey := keys.RawMeta(s.version, cfg.UpstreamBaseURL, metaType, id)
	upstreamURL := fmt.Sprintf("%s/meta/%s/%s.json", cfg.UpstreamBaseURL, url.PathEscape(metaType), url.PathEscape(id))

	body, err := s.fetchRaw(ctx, rawKey, ttl, upstreamURL)
	if err != nil {
		return nil, err
	}

	doc, meta, err := decodeMetaDoc(body)
	if err != nil || meta == nil {
		return nil, models.NewError(models.KindUpstreamServer, fmt.Errorf("meta: invalid upstream shape"))
	}

	if cfg.RatingsEnabled {
		lookup := func(ctx context.Context, itemID string) *models.ConsolidatedRating {
			return s.consolidator.Consolidate(itemID, s.ratingLookup(cfg)(ctx, itemID))
		}
		opts := episodeOptions(meta, cfg.Region)
		meta = s.enricher.EnrichMeta(ctx, cfg, meta, lookup, s.episodeLookup(id, opts))
	}

	return encodeMetaDoc(doc, meta)
}
