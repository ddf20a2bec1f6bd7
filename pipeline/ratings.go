package pipeline

import (
	"context"

	"go.uber.org/zap"

	"ratingproxy.app/consolidate"
	"ratingproxy.app/pkg/models"
	"ratingproxy.app/providers"
)

// ratingLookup builds a consolidate.Lookup over this service's rating
// sources for one config, filtering the aggregated-meta and anime-list
// sources per cfg.MetadataProvider — a config selects which secondary
// sources apply, since anime titles are not covered by the general
// aggregated-meta upstream and vice versa — and folding in the
// certification provider as a metadata-only source.
func (s *Service) ratingLookup(cfg models.Config) consolidate.Lookup {
	return func(ctx context.Context, itemID string) []consolidate.Source {
		opts := providers.Options{Region: cfg.Region}
		sources := make([]consolidate.Source, 0, len(s.ratingSources)+1)

		for _, rs := range s.ratingSources {
			if cfg.MetadataProvider == "anime" && rs.name == "aggregated" {
				continue
			}
			if cfg.MetadataProvider != "anime" && rs.name == "anime-list" {
				continue
			}
			data, err := rs.p.FetchByItemId(ctx, s.version, itemID, opts)
			if err != nil {
				s.logger.Warn("rating source failed", zap.String("source", rs.name), zap.Error(err))
				continue
			}
			if data == nil {
				continue
			}
			sources = append(sources, consolidate.Source{
				Name:        rs.name,
				Score:       data.Score,
				Scale:       data.Scale,
				Ok:          true,
				VoteCount:   data.VoteCount,
				ReleaseDate: data.ReleaseDate,
				Streaming:   data.Streaming,
			})
		}

		if cert, err := s.certification.FetchByItemId(ctx, s.version, itemID, opts); err == nil && cert != nil {
			sources = append(sources, consolidate.Source{
				Name:          "certification",
				Ok:            true,
				MetadataOnly:  true,
				Certification: cert.Certification,
			})
		}

		return sources
	}
}

// episodeOptions maps a meta document's video ids to the season/episode
// the episode-rating provider needs, read straight off the upstream
// videos[] array before enrichment rewrites it.
func episodeOptions(meta map[string]any, region string) map[string]providers.Options {
	out := make(map[string]providers.Options)
	videos, _ := meta["videos"].([]any)
	for _, v := range videos {
		video, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id, _ := video["id"].(string)
		if id == "" {
			continue
		}
		episode := intField(video, "episode")
		if episode == 0 {
			episode = intField(video, "episodeNumber")
		}
		out[id] = providers.Options{
			Region:  region,
			Season:  intField(video, "season"),
			Episode: episode,
		}
	}
	return out
}

// episodeLookup resolves one episode's rating, keyed by the series'
// canonical id (seriesID) plus the season/episode pulled from opts.
func (s *Service) episodeLookup(seriesID string, opts map[string]providers.Options) func(ctx context.Context, videoID string) *models.ConsolidatedRating {
	return func(ctx context.Context, videoID string) *models.ConsolidatedRating {
		o, ok := opts[videoID]
		if !ok {
			return nil
		}
		sources := make([]consolidate.Source, 0, len(s.episodeSources))
		for _, es := range s.episodeSources {
			data, err := es.p.FetchByItemId(ctx, s.version, seriesID, o)
			if err != nil {
				s.logger.Warn("episode rating source failed", zap.String("source", es.name), zap.Error(err))
				continue
			}
			if data == nil {
				continue
			}
			sources = append(sources, consolidate.Source{
				Name:      es.name,
				Score:     data.Score,
				Scale:     data.Scale,
				Ok:        true,
				VoteCount: data.VoteCount,
			})
		}
		return s.consolidator.Consolidate(videoID, sources)
	}
}
