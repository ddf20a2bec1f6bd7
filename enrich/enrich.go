// Package enrich implements the enricher: rewriting an upstream
// catalog/meta document's title and description fields with consolidated
// rating data, per the current config's FormatSpec.
//
// Enrichment is read-only with respect to its input document; it builds
// a new map rather than mutating the one the fetcher returned, so a
// cached or shared document is never corrupted by one caller's
// formatting choices.
package enrich

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"ratingproxy.app/pkg/models"
)

// supportedID matches the canonical id format this module enriches
// (IMDB-style "tt" ids); items whose id does not match are left
// untouched.
var supportedID = regexp.MustCompile(`^tt\d+$`)

// RatingLookup resolves one item id to its consolidated rating, or nil
// when none is available. The enricher is agnostic to how this is
// computed (single consolidateBatch call, or the legacy single-source
// path) — the caller supplies it.
type RatingLookup func(ctx context.Context, itemID string) *models.ConsolidatedRating

// Enricher builds rewritten copies of documents according to cfg; its
// input documents are not mutated.
type Enricher struct {
	concurrency int
}

func New(concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Enricher{concurrency: concurrency}
}

// EnrichCatalog rewrites every item's title (catalog items only, per
// ApplyToCatalog) using ratings resolved through lookup.
func (e *Enricher) EnrichCatalog(ctx context.Context, cfg models.Config, items []map[string]any, lookup RatingLookup) []map[string]any {
	ids := collectIDs(items)
	ratings := e.resolveAll(ctx, ids, lookup)

	out := make([]map[string]any, len(items))
	for i, item := range items {
		out[i] = e.enrichItem(cfg, item, ratings, false)
	}
	return out
}

// EnrichMeta rewrites a single meta document's title/description, and
// recursively enriches its videos[] (episodes), using episode-level
// lookups for each.
func (e *Enricher) EnrichMeta(ctx context.Context, cfg models.Config, meta map[string]any, lookup RatingLookup, episodeLookup RatingLookup) map[string]any {
	id, _ := meta["id"].(string)
	var rating *models.ConsolidatedRating
	if supportedID.MatchString(id) {
		rating = lookup(ctx, id)
	}

	out := e.applyFormatting(cfg, meta, rating, false)

	if videos, ok := meta["videos"].([]any); ok {
		enrichedVideos := make([]any, len(videos))
		for i, v := range videos {
			video, ok := v.(map[string]any)
			if !ok {
				enrichedVideos[i] = v
				continue
			}
			videoID, _ := video["id"].(string)
			var videoRating *models.ConsolidatedRating
			if supportedID.MatchString(videoID) && episodeLookup != nil {
				videoRating = episodeLookup(ctx, videoID)
			}
			enrichedVideos[i] = e.applyFormatting(cfg, video, videoRating, true)
		}
		out["videos"] = enrichedVideos
	}

	return out
}

// SupportedIDs returns the ids of items this enricher can resolve a
// rating for, in the order given, so callers can precompute ratings (via
// consolidate.ConsolidateBatch) before enrichment runs.
func (e *Enricher) SupportedIDs(items []map[string]any) []string {
	return collectIDs(items)
}

func collectIDs(items []map[string]any) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, _ := item["id"].(string)
		if supportedID.MatchString(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// resolveAll fans out lookup over ids with bounded concurrency.
func (e *Enricher) resolveAll(ctx context.Context, ids []string, lookup RatingLookup) map[string]*models.ConsolidatedRating {
	results := make(map[string]*models.ConsolidatedRating, len(ids))
	if len(ids) == 0 {
		return results
	}

	var mu sync.Mutex
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			rating := lookup(ctx, id)
			mu.Lock()
			results[id] = rating
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

func (e *Enricher) enrichItem(cfg models.Config, item map[string]any, ratings map[string]*models.ConsolidatedRating, isEpisode bool) map[string]any {
	id, _ := item["id"].(string)
	return e.applyFormatting(cfg, item, ratings[id], isEpisode)
}

// applyFormatting rewrites title/description on a copy of item.
func (e *Enricher) applyFormatting(cfg models.Config, item map[string]any, rating *models.ConsolidatedRating, isEpisode bool) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	if rating == nil || !cfg.RatingsEnabled {
		return out
	}

	if cfg.InjectLocation == models.InjectTitle || cfg.InjectLocation == models.InjectBoth {
		if applies(cfg.TitleFormat, isEpisode) {
			rewriteTitleField(out, "name", cfg.TitleFormat, rating)
			rewriteTitleField(out, "title", cfg.TitleFormat, rating)
		}
	}

	if cfg.InjectLocation == models.InjectDescription || cfg.InjectLocation == models.InjectBoth {
		if applies(cfg.DescriptionFormat, isEpisode) {
			rewriteDescription(out, cfg.DescriptionFormat, rating)
		}
	}

	return out
}

func applies(f models.FormatSpec, isEpisode bool) bool {
	if isEpisode {
		return f.ApplyToEpisodes
	}
	return f.ApplyToCatalog
}

func rewriteTitleField(item map[string]any, field string, f models.FormatSpec, rating *models.ConsolidatedRating) {
	original, ok := item[field].(string)
	if !ok || original == "" {
		return
	}
	rendered := renderTemplate(f.Template, rating)
	item[field] = joinAt(original, rendered, f.Position, f.Separator)
}

func renderTemplate(template string, rating *models.ConsolidatedRating) string {
	return strings.ReplaceAll(template, "{rating}", strconv.FormatFloat(rating.Score, 'f', 1, 64))
}

func joinAt(original, insert string, pos models.Position, sep string) string {
	if pos == models.PositionPrefix {
		return insert + sep + original
	}
	return original + sep + insert
}

// rewriteDescription joins an ordered metadata line (rating, vote count,
// certification, secondary ratings, release date, streaming list) using
// f.Separator between parts, then joins that line to the original
// description using the same separator at f.Position.
func rewriteDescription(item map[string]any, f models.FormatSpec, rating *models.ConsolidatedRating) {
	original, _ := item["description"].(string)

	order := f.OrderOfParts
	if len(order) == 0 {
		order = models.KnownParts
	}

	var parts []string
	for _, part := range order {
		if rendered, ok := renderDescriptionPart(part, rating); ok {
			parts = append(parts, rendered)
		}
	}
	if len(parts) == 0 {
		return
	}

	line := strings.Join(parts, f.Separator)
	item["description"] = joinAt(original, line, f.Position, f.Separator)
}

func renderDescriptionPart(part string, rating *models.ConsolidatedRating) (string, bool) {
	switch part {
	case "rating":
		return strconv.FormatFloat(rating.Score, 'f', 1, 64), true
	case "votes":
		if rating.VoteCount == 0 {
			return "", false
		}
		return fmt.Sprintf("%d votes", rating.VoteCount), true
	case "certification":
		if rating.Certification == "" {
			return "", false
		}
		return rating.Certification, true
	case "secondary":
		if len(rating.PerSource) < 2 {
			return "", false
		}
		return fmt.Sprintf("%d sources", rating.SourceCount), true
	case "release":
		if rating.ReleaseDate == "" {
			return "", false
		}
		return rating.ReleaseDate, true
	case "streaming":
		if len(rating.Streaming) == 0 {
			return "", false
		}
		return strings.Join(rating.Streaming, ", "), true
	default:
		return "", false
	}
}
