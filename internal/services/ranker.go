package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/irfndi/distance-pairs/internal/distance"
	"github.com/irfndi/distance-pairs/internal/models"
)

// DistanceRanker selects the most co-moving pairs of a training table.
type DistanceRanker struct{}

// NewDistanceRanker creates a DistanceRanker.
func NewDistanceRanker() *DistanceRanker {
	return &DistanceRanker{}
}

// CandidatePairCount returns C(n, 2) for n assets.
func CandidatePairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

type scoredPair struct {
	pair  models.Pair
	order int
}

// Rank scores every unordered asset pair of table with fn applied to the
// min-max normalized series and returns the top pairs, smallest distance first.
// Equal distances keep enumeration order: column i before column j for i < j,
// outer loop first.
func (r *DistanceRanker) Rank(table *models.PriceTable, fn distance.Func, top int) ([]models.Pair, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: price table is nil", ErrInvalidInput)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: distance function is nil", ErrInvalidInput)
	}
	assets := table.Assets()
	if len(assets) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 asset columns, got %d", ErrInvalidInput, len(assets))
	}
	if top <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTop, top)
	}
	if candidates := CandidatePairCount(len(assets)); top > candidates {
		return nil, fmt.Errorf("%w: requested %d of %d", ErrInsufficientPairs, top, candidates)
	}

	normalized := make([][]float64, len(assets))
	for i := range assets {
		normalized[i] = normalizeForRanking(table.ColumnAt(i))
	}

	seen := make(map[string]struct{}, CandidatePairCount(len(assets)))
	scored := make([]scoredPair, 0, CandidatePairCount(len(assets)))
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			pair := models.NewPair(assets[i], assets[j])
			if _, dup := seen[pair.Key()]; dup {
				continue
			}
			seen[pair.Key()] = struct{}{}

			score := fn(normalized[i], normalized[j])
			if math.IsNaN(score) {
				return nil, fmt.Errorf("%w: distance for %s is NaN", ErrInvalidInput, pair.Name())
			}
			pair.Distance = score
			scored = append(scored, scoredPair{pair: pair, order: len(scored)})
		}
	}

	sort.Slice(scored, func(a, b int) bool {
		if scored[a].pair.Distance != scored[b].pair.Distance {
			return scored[a].pair.Distance < scored[b].pair.Distance
		}
		return scored[a].order < scored[b].order
	})

	out := make([]models.Pair, top)
	for i := 0; i < top; i++ {
		out[i] = scored[i].pair
		out[i].Rank = i + 1
	}
	return out, nil
}

// normalizeForRanking min-max scales a series onto [0, 1]. A constant series
// maps to zeros; the pair normalizer rejects it later for that pair only.
func normalizeForRanking(series []float64) []float64 {
	lo, hi := minMax(series)
	out := make([]float64, len(series))
	if hi == lo {
		return out
	}
	span := hi - lo
	for i, v := range series {
		out[i] = (v - lo) / span
	}
	return out
}
