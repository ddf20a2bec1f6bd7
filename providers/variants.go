package providers

import (
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"ratingproxy.app/cachetier"
	"ratingproxy.app/fetcher"
	"ratingproxy.app/pkg/models"
)

// sourceResponse is the common envelope every upstream rating source in
// this module returns; fields not applicable to a given variant are left
// at their zero value.
type sourceResponse struct {
	Found         bool     `json:"found"`
	Score         float64  `json:"score"`
	Scale         float64  `json:"scale"`
	VoteCount     int      `json:"voteCount"`
	Certification string   `json:"certification"`
	ReleaseDate   string   `json:"releaseDate"`
	Streaming     []string `json:"streaming"`
}

func parseSourceResponse(source string, scale float64) Parser {
	return func(body []byte) (*models.ProviderData, error) {
		var resp sourceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		if !resp.Found {
			return nil, nil
		}
		effectiveScale := resp.Scale
		if effectiveScale == 0 {
			effectiveScale = scale
		}
		return &models.ProviderData{
			Source:        source,
			Score:         resp.Score,
			Scale:         effectiveScale,
			VoteCount:     resp.VoteCount,
			Certification: resp.Certification,
			ReleaseDate:   resp.ReleaseDate,
			Streaming:     resp.Streaming,
		}, nil
	}
}

// NewPrimaryRating builds the primary title-rating provider: canonical
// id, 0-10 scale (source A in the consolidator's terms).
func NewPrimaryRating(baseURL string, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	build := func(itemID string, opts Options) string {
		return fmt.Sprintf("%s/titles/%s/rating?region=%s", baseURL, url.PathEscape(itemID), url.QueryEscape(opts.Region))
	}
	return New("primary", "rating", build, parseSourceResponse("primary", 10), f, cache, logger)
}

// NewEpisodeRating builds the episode-rating provider, keyed by
// (seriesId, season, episode) rather than a single canonical id.
func NewEpisodeRating(baseURL string, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	build := func(seriesID string, opts Options) string {
		return fmt.Sprintf("%s/titles/%s/season/%d/episode/%d/rating",
			baseURL, url.PathEscape(seriesID), opts.Season, opts.Episode)
	}
	return New("episode", "rating", build, parseSourceResponse("episode", 10), f, cache, logger)
}

// NewCertification builds the MPAA/certification-rating provider, also
// canonical-id keyed, surfaced as a secondary metadata line rather than a
// consolidated score.
func NewCertification(baseURL string, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	build := func(itemID string, opts Options) string {
		return fmt.Sprintf("%s/titles/%s/certification?region=%s", baseURL, url.PathEscape(itemID), url.QueryEscape(opts.Region))
	}
	return New("certification", "data", build, parseSourceResponse("certification", 0), f, cache, logger)
}

// NewAggregatedMeta builds the aggregated-meta provider: RT%/Metacritic
// style percentage score (source C or D in the consolidator's terms),
// plus release date and regional streaming availability.
func NewAggregatedMeta(baseURL string, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	build := func(itemID string, opts Options) string {
		return fmt.Sprintf("%s/titles/%s/aggregate?region=%s", baseURL, url.PathEscape(itemID), url.QueryEscape(opts.Region))
	}
	return New("aggregated", "rating", build, parseSourceResponse("aggregated", 100), f, cache, logger)
}

// NewAnimeList builds the anime-list rating provider, keyed by an
// external (non-canonical) id rather than the proxy's own id space.
func NewAnimeList(baseURL string, f *fetcher.Fetcher, cache *cachetier.Service, logger *zap.Logger) *Provider {
	build := func(externalID string, opts Options) string {
		return fmt.Sprintf("%s/anime/%s/rating", baseURL, url.PathEscape(externalID))
	}
	return New("anime-list", "rating", build, parseSourceResponse("anime-list", 10), f, cache, logger)
}
