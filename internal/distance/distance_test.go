package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumSquaredDistance(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{2, 2, 5}

	assert.Equal(t, 5.0, SumSquaredDistance(a, b))
	assert.Equal(t, SumSquaredDistance(a, b), SumSquaredDistance(b, a))
	assert.Equal(t, 0.0, SumSquaredDistance(a, a))
}

func TestEuclideanAndManhattan(t *testing.T) {
	a := []float64{0, 0}
	b := []float64{3, 4}

	assert.Equal(t, 5.0, EuclideanDistance(a, b))
	assert.Equal(t, 7.0, ManhattanDistance(a, b))
}

func TestCorrelationDistance(t *testing.T) {
	up := []float64{1, 2, 3, 4}
	down := []float64{4, 3, 2, 1}
	flat := []float64{1, 1, 1, 1}

	assert.InDelta(t, 0.0, CorrelationDistance(up, up), 1e-12)
	assert.InDelta(t, 2.0, CorrelationDistance(up, down), 1e-12)
	assert.Equal(t, 1.0, CorrelationDistance(up, flat))
	assert.Equal(t, 1.0, CorrelationDistance(nil, nil))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{Correlation, Euclidean, Manhattan, SumSquared}, r.Names())

	fn, err := r.Get(SumSquared)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fn([]float64{0}, []float64{1}))

	_, err = r.Get("cosine")
	assert.Error(t, err)

	require.NoError(t, r.Register("max_abs", func(a, b []float64) float64 {
		m := 0.0
		for i := range a {
			m = math.Max(m, math.Abs(a[i]-b[i]))
		}
		return m
	}))
	fn, err = r.Get("max_abs")
	require.NoError(t, err)
	assert.Equal(t, 2.0, fn([]float64{0, 1}, []float64{1, 3}))

	assert.Error(t, r.Register("", SumSquaredDistance))
	assert.Error(t, r.Register("nil", nil))
}

func TestDefaultRegistry(t *testing.T) {
	fn, err := Default().Get(Euclidean)
	require.NoError(t, err)
	assert.NotNil(t, fn)
}
