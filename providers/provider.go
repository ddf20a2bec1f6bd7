// Package providers implements the rating providers: thin clients over
// the upstream fetcher, each combining a fast in-process bounded cache
// with the shared cache tier, and memoizing negative results in their own
// scoped bounded cache so long-missing items are not queried repeatedly.
//
// The fast-hit/negative-result split is an L1+L2-style cascade applied
// per provider rather than per cache-tier instance, backed by
// pkg/boundedcache.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/fetcher"
	"ratingproxy.app/keys"
	"ratingproxy.app/pkg/boundedcache"
	"ratingproxy.app/pkg/models"
)

// Options parameterize a single fetchByItemId call.
type Options struct {
	Region  string
	Season  int
	Episode int
}

// Parser turns a raw upstream response body into a ProviderData, or nil
// if the upstream indicates no data for this item (a legitimate,
// memoizable null, not an error).
type Parser func(body []byte) (*models.ProviderData, error)

// URLBuilder builds the upstream request URL for one item.
type URLBuilder func(itemID string, opts Options) string

const (
	fastHitTTL    = 10 * time.Minute
	negativeTTL   = 30 * time.Minute
	fastHitSize   = 5000
	negativeSize  = 5000
)

// Provider is one rating source, exposing FetchByItemId.
type Provider struct {
	source     string
	kind       string // "data" or "rating", used in the cache-tier key
	buildURL   URLBuilder
	parse      Parser
	fetch      *fetcher.Fetcher
	cache      *cachetier.Service
	fastHits   *boundedcache.Cache
	negatives  *boundedcache.Cache
	logger     *zap.Logger
}

// New builds a provider. kind selects the cache-tier key shape
// ({data|rating}:{source}:{itemId}[:region]).
func New(source, kind string, buildURL URLBuilder, parse Parser, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	return &Provider{
		source:    source,
		kind:      kind,
		buildURL:  buildURL,
		parse:     parse,
		fetch:     f,
		cache:     cache,
		fastHits:  boundedcache.New(fastHitSize),
		negatives: boundedcache.New(negativeSize),
		logger:    logger,
	}
}

func (p *Provider) cacheKey(version int, itemID, region string) string {
	if p.kind == "rating" {
		return keys.PerSourceRating(version, p.source, itemID, region)
	}
	return keys.PerSourceData(version, p.source, itemID, region)
}

// FetchByItemId returns the provider's data for itemID, or (nil, nil)
// when the provider has no data. Negative results are memoized so a
// persistently missing item is not re-queried on every request.
func (p *Provider) FetchByItemId(ctx context.Context, version int, itemID string, opts Options) (*models.ProviderData, error) {
	memoKey := fmt.Sprintf("%s:%s:%d:%d", itemID, opts.Region, opts.Season, opts.Episode)

	if v, ok := p.fastHits.Get(memoKey); ok {
		if v == nil {
			return nil, nil
		}
		return v.(*models.ProviderData), nil
	}
	if _, ok := p.negatives.Get(memoKey); ok {
		return nil, nil
	}

	key := p.cacheKey(version, itemID, opts.Region)
	if raw, ok := p.cache.GetJSON(ctx, key); ok {
		data, err := p.decode(raw)
		if err != nil {
			p.logger.Warn("provider cache entry failed to decode", zap.String("source", p.source), zap.Error(err))
		} else {
			p.memoize(memoKey, data)
			return data, nil
		}
	}

	url := p.buildURL(itemID, opts)
	body, err := p.fetch.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.source, err)
	}

	data, err := p.parse(body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: parse: %w", p.source, err)
	}

	if raw, encErr := p.encode(data); encErr == nil {
		p.cache.SetJSONAsync(ctx, key, raw, fastHitTTL)
	}
	p.memoize(memoKey, data)
	return data, nil
}

func (p *Provider) memoize(memoKey string, data *models.ProviderData) {
	if data == nil {
		p.negatives.Set(memoKey, nil, negativeTTL)
		return
	}
	p.fastHits.Set(memoKey, data, fastHitTTL)
}

func (p *Provider) decode(raw []byte) (*models.ProviderData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data models.ProviderData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (p *Provider) encode(data *models.ProviderData) ([]byte, error) {
	if data == nil {
		return []byte{}, nil
	}
	return json.Marshal(data)
}
