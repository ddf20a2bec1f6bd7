package consolidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratingproxy.app/pkg/models"
)

func TestConsolidate_AveragesAndNormalizes(t *testing.T) {
	c := New()
	rating := c.Consolidate("item1", []Source{
		{Name: "A", Score: 8, Scale: 10, Ok: true},
		{Name: "D", Score: 90, Scale: 100, Ok: true},
	})
	require.NotNil(t, rating)
	assert.Equal(t, 8.5, rating.Score)
	assert.Equal(t, 2, rating.SourceCount)
	assert.Equal(t, models.BandGreat, rating.Band)
}

func TestConsolidate_ZeroSourcesIsMemoizedNull(t *testing.T) {
	c := New()
	rating := c.Consolidate("item2", []Source{{Name: "A", Ok: false}})
	assert.Nil(t, rating)

	rating2 := c.Consolidate("item2", []Source{{Name: "A", Score: 9, Scale: 10, Ok: true}})
	assert.Nil(t, rating2, "memoized negative result should not be recomputed")
}

func TestConsolidate_BandBoundaries(t *testing.T) {
	c := New()
	cases := []struct {
		score float64
		band  models.Band
	}{
		{9.5, models.BandExcellent},
		{8.2, models.BandGreat},
		{7.0, models.BandGood},
		{6.1, models.BandOkay},
		{5.0, models.BandMediocre},
		{2.0, models.BandPoor},
	}
	for i, tc := range cases {
		r := c.Consolidate(itemFor(i), []Source{{Name: "A", Score: tc.score, Scale: 10, Ok: true}})
		require.NotNil(t, r)
		assert.Equal(t, tc.band, r.Band)
	}
}

func itemFor(i int) string {
	return "band-item-" + string(rune('a'+i))
}

func TestConsolidateBatch_RunsWavesAndCollectsAll(t *testing.T) {
	c := New()
	ids := []string{"i1", "i2", "i3", "i4", "i5"}
	lookup := func(ctx context.Context, id string) []Source {
		return []Source{{Name: "A", Score: 7, Scale: 10, Ok: true}}
	}

	results := c.ConsolidateBatch(context.Background(), ids, 2, lookup)
	assert.Len(t, results, len(ids))
	for _, id := range ids {
		require.NotNil(t, results[id])
		assert.Equal(t, 7.0, results[id].Score)
	}
}
