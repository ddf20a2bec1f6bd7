package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratingproxy.app/pkg/models"
)

func testConfig() models.Config {
	return models.Config{
		RatingsEnabled: true,
		InjectLocation: models.InjectBoth,
		TitleFormat: models.FormatSpec{
			Position:       models.PositionSuffix,
			Template:       "[{rating}]",
			Separator:      " ",
			ApplyToCatalog: true,
		},
		DescriptionFormat: models.FormatSpec{
			Position:     models.PositionSuffix,
			Separator:    " | ",
			OrderOfParts: []string{"rating", "votes"},
			ApplyToCatalog: true,
		},
	}
}

func TestEnrichCatalog_RewritesTitleAndDescription(t *testing.T) {
	e := New(4)
	cfg := testConfig()
	items := []map[string]any{
		{"id": "tt1234567", "name": "Movie One", "description": "A great movie."},
		{"id": "unsupported-id", "name": "Skip Me"},
	}
	lookup := func(ctx context.Context, id string) *models.ConsolidatedRating {
		if id != "tt1234567" {
			return nil
		}
		return &models.ConsolidatedRating{Score: 8.5, VoteCount: 100, ComputedAt: time.Now()}
	}

	out := e.EnrichCatalog(context.Background(), cfg, items, lookup)
	require.Len(t, out, 2)
	assert.Equal(t, "Movie One [8.5]", out[0]["name"])
	assert.Contains(t, out[0]["description"], "8.5")
	assert.Contains(t, out[0]["description"], "100 votes")
	assert.Equal(t, "Skip Me", out[1]["name"], "unsupported id must be left untouched")
}

func TestEnrichMeta_RecursesIntoEpisodes(t *testing.T) {
	e := New(4)
	cfg := testConfig()
	meta := map[string]any{
		"id":   "tt1234567",
		"name": "Series",
		"videos": []any{
			map[string]any{"id": "tt7654321", "name": "Episode 1"},
		},
	}
	lookup := func(ctx context.Context, id string) *models.ConsolidatedRating {
		return &models.ConsolidatedRating{Score: 7.0, ComputedAt: time.Now()}
	}
	episodeLookup := func(ctx context.Context, id string) *models.ConsolidatedRating {
		return &models.ConsolidatedRating{Score: 9.0, ComputedAt: time.Now()}
	}

	out := e.EnrichMeta(context.Background(), cfg, meta, lookup, episodeLookup)
	assert.Equal(t, "Series [7.0]", out["name"])

	videos := out["videos"].([]any)
	video := videos[0].(map[string]any)
	assert.Equal(t, "Episode 1", video["name"], "ApplyToEpisodes is false by default, so episode titles are untouched")

	episodeCfg := cfg
	episodeCfg.TitleFormat.ApplyToEpisodes = true
	out2 := e.EnrichMeta(context.Background(), episodeCfg, meta, lookup, episodeLookup)
	video2 := out2["videos"].([]any)[0].(map[string]any)
	assert.Equal(t, "Episode 1 [9.0]", video2["name"], "with ApplyToEpisodes set, episodes are enriched from episodeLookup")
}

func TestEnrichCatalog_DisabledRatingsLeavesItemsUntouched(t *testing.T) {
	e := New(4)
	cfg := testConfig()
	cfg.RatingsEnabled = false
	items := []map[string]any{{"id": "tt1234567", "name": "Movie One"}}
	lookup := func(ctx context.Context, id string) *models.ConsolidatedRating {
		return &models.ConsolidatedRating{Score: 8.5}
	}

	out := e.EnrichCatalog(context.Background(), cfg, items, lookup)
	assert.Equal(t, "Movie One", out[0]["name"])
}
