package services

import (
	"testing"
	"time"

	"github.com/irfndi/distance-pairs/internal/distance"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTimes(n int) []time.Time {
	start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func mustTable(t *testing.T, assets []string, columns ...[]float64) *models.PriceTable {
	t.Helper()
	table, err := models.NewPriceTable(testTimes(len(columns[0])), assets, columns)
	require.NoError(t, err)
	return table
}

func rankingTable(t *testing.T) *models.PriceTable {
	return mustTable(t, []string{"A", "B", "C", "D"},
		[]float64{1, 2, 3, 4, 5},
		[]float64{10, 20, 30, 40, 50},
		[]float64{5, 4, 3, 2, 1},
		[]float64{1, 3, 2, 5, 4},
	)
}

func TestDistanceRanker_RanksAscending(t *testing.T) {
	pairs, err := NewDistanceRanker().Rank(rankingTable(t), distance.SumSquaredDistance, 3)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	// A and B normalize to identical series.
	assert.Equal(t, "A", pairs[0].A)
	assert.Equal(t, "B", pairs[0].B)
	assert.Equal(t, 0.0, pairs[0].Distance)
	assert.Equal(t, 1, pairs[0].Rank)
	assert.Equal(t, 3, pairs[2].Rank)
	for i := 1; i < len(pairs); i++ {
		assert.LessOrEqual(t, pairs[i-1].Distance, pairs[i].Distance)
	}
}

func TestDistanceRanker_NoDuplicatePairs(t *testing.T) {
	table := rankingTable(t)
	n := len(table.Assets())
	pairs, err := NewDistanceRanker().Rank(table, distance.SumSquaredDistance, CandidatePairCount(n))
	require.NoError(t, err)

	assert.Len(t, pairs, 6)
	seen := map[string]bool{}
	for _, p := range pairs {
		assert.NotEqual(t, p.A, p.B)
		assert.False(t, seen[p.Key()], "duplicate pair %s", p.Name())
		seen[p.Key()] = true
	}
}

func TestDistanceRanker_Deterministic(t *testing.T) {
	table := rankingTable(t)
	ranker := NewDistanceRanker()
	first, err := ranker.Rank(table, distance.ManhattanDistance, 6)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ranker.Rank(table, distance.ManhattanDistance, 6)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDistanceRanker_TieBreakByEnumerationOrder(t *testing.T) {
	table := rankingTable(t)
	constant := func(a, b []float64) float64 { return 1 }

	pairs, err := NewDistanceRanker().Rank(table, constant, 6)
	require.NoError(t, err)

	want := []string{"A/B", "A/C", "A/D", "B/C", "B/D", "C/D"}
	got := make([]string, len(pairs))
	for i, p := range pairs {
		got[i] = p.Name()
	}
	assert.Equal(t, want, got)
}

func TestDistanceRanker_Errors(t *testing.T) {
	ranker := NewDistanceRanker()
	table := rankingTable(t)

	_, err := ranker.Rank(table, distance.SumSquaredDistance, 7)
	assert.ErrorIs(t, err, ErrInsufficientPairs)

	_, err = ranker.Rank(table, distance.SumSquaredDistance, 0)
	assert.ErrorIs(t, err, ErrInvalidTop)

	single := mustTable(t, []string{"A"}, []float64{1, 2, 3})
	_, err = ranker.Rank(single, distance.SumSquaredDistance, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ranker.Rank(table, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ranker.Rank(nil, distance.SumSquaredDistance, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDistanceRanker_RejectsNaNScore(t *testing.T) {
	nan := func(a, b []float64) float64 { return 0 / zero() }
	_, err := NewDistanceRanker().Rank(rankingTable(t), nan, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func zero() float64 { return 0 }

func TestDistanceRanker_ConstantSeriesIsRanked(t *testing.T) {
	table := mustTable(t, []string{"A", "FLAT"},
		[]float64{1, 2, 3},
		[]float64{7, 7, 7},
	)
	pairs, err := NewDistanceRanker().Rank(table, distance.SumSquaredDistance, 1)
	require.NoError(t, err)
	// [0, .5, 1] against zeros.
	assert.InDelta(t, 1.25, pairs[0].Distance, 1e-12)
}

func TestDistanceRanker_DoesNotMutateInput(t *testing.T) {
	table := rankingTable(t)
	before, _ := table.Column("B")
	_, err := NewDistanceRanker().Rank(table, distance.SumSquaredDistance, 1)
	require.NoError(t, err)
	after, _ := table.Column("B")
	assert.Equal(t, before, after)
}

func TestCandidatePairCount(t *testing.T) {
	assert.Equal(t, 0, CandidatePairCount(1))
	assert.Equal(t, 1, CandidatePairCount(2))
	assert.Equal(t, 45, CandidatePairCount(10))
}
