// Package consolidate implements the consolidator: combining up to four
// provider sources into one ConsolidatedRating, with negative-result
// memoization and a rolling-wave batch form.
//
// ConsolidateBatch runs lookups in bounded rolling waves rather than all
// at once, and pkg/boundedcache memoizes the per-item negative result — a
// zero-source item is itself a legitimate, memoizable null, not an
// error.
package consolidate

import (
	"context"
	"math"
	"time"

	"ratingproxy.app/pkg/boundedcache"
	"ratingproxy.app/pkg/models"
)

const (
	negativeTTL  = 15 * time.Minute
	negativeSize = 5000
)

// Source is one of the four fixed consolidator inputs: A and B are 0-10
// scales used as-is, C and D are 0-100 scales divided by 10 before
// averaging.
type Source struct {
	Name  string
	Score float64
	Scale float64 // 10 or 100
	Ok    bool    // whether this source returned a value at all

	// MetadataOnly excludes this source from the averaged score while
	// still letting its VoteCount/Certification/ReleaseDate/Streaming
	// fields feed the consolidated result (the certification provider is
	// data-only per providers.NewCertification's doc comment: it has no
	// numeric rating of its own).
	MetadataOnly bool

	VoteCount     int
	Certification string
	ReleaseDate   string
	Streaming     []string
}

func (s Source) normalized() float64 {
	if s.Scale == 100 {
		return s.Score / 10
	}
	return s.Score
}

// Consolidator combines sources into ConsolidatedRating and memoizes
// zero-source (null) outcomes per item so they are not recomputed on
// every request.
type Consolidator struct {
	negatives *boundedcache.Cache
}

func New() *Consolidator {
	return &Consolidator{negatives: boundedcache.New(negativeSize)}
}

// Consolidate averages the sources that returned a value; zero usable
// sources yields nil, which the caller should treat as a legitimate
// negative result for itemID.
func (c *Consolidator) Consolidate(itemID string, sources []Source) *models.ConsolidatedRating {
	if _, memoized := c.negatives.Get(itemID); memoized {
		return nil
	}

	var sum float64
	count := 0
	perSource := make(map[string]float64, len(sources))
	var voteCount int
	var certification, releaseDate string
	var streaming []string

	for _, s := range sources {
		if !s.Ok {
			continue
		}
		if !s.MetadataOnly {
			norm := s.normalized()
			perSource[s.Name] = norm
			sum += norm
			count++
		}

		if s.VoteCount > voteCount {
			voteCount = s.VoteCount
		}
		if certification == "" {
			certification = s.Certification
		}
		if releaseDate == "" {
			releaseDate = s.ReleaseDate
		}
		if len(streaming) == 0 {
			streaming = s.Streaming
		}
	}

	if count == 0 {
		c.negatives.Set(itemID, nil, negativeTTL)
		return nil
	}

	score := round1(sum / float64(count))
	return &models.ConsolidatedRating{
		Score:         score,
		SourceCount:   count,
		PerSource:     perSource,
		Band:          models.BandFor(score),
		ComputedAt:    time.Now(),
		VoteCount:     voteCount,
		Certification: certification,
		ReleaseDate:   releaseDate,
		Streaming:     streaming,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Lookup is a per-item fetch of the four source inputs, supplied by the
// caller (providers own the actual upstream/cache access; the
// consolidator only combines their results).
type Lookup func(ctx context.Context, itemID string) []Source

// ConsolidateBatch is the batch form: items are partitioned into rolling
// waves of size concurrency, each wave's lookups run in parallel, and a
// small inter-wave delay smooths bursts (larger before the first wave, as
// a brief warm-up pause).
func (c *Consolidator) ConsolidateBatch(ctx context.Context, itemIDs []string, concurrency int, lookup Lookup) map[string]*models.ConsolidatedRating {
	if concurrency <= 0 {
		concurrency = 10
	}
	results := make(map[string]*models.ConsolidatedRating, len(itemIDs))

	for wave := 0; wave*concurrency < len(itemIDs); wave++ {
		start := wave * concurrency
		end := start + concurrency
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		batch := itemIDs[start:end]

		type outcome struct {
			id     string
			rating *models.ConsolidatedRating
		}
		out := make(chan outcome, len(batch))
		for _, id := range batch {
			go func(id string) {
				sources := lookup(ctx, id)
				out <- outcome{id: id, rating: c.Consolidate(id, sources)}
			}(id)
		}
		for range batch {
			o := <-out
			results[o.id] = o.rating
		}

		if end < len(itemIDs) {
			delay := 50 * time.Millisecond
			if wave == 0 {
				delay = 150 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return results
			case <-time.After(delay):
			}
		}
	}

	return results
}
