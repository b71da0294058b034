package services

import (
	"math"
	"testing"

	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalFrame(priceA, priceB []float64, signal ...models.SignalState) *models.PairFrame {
	return &models.PairFrame{
		Pair:       models.NewPair("A", "B"),
		Window:     models.WindowTest,
		Timestamps: testTimes(len(priceA)),
		PriceA:     priceA,
		PriceB:     priceB,
		NormA:      make([]float64, len(priceA)),
		NormB:      make([]float64, len(priceA)),
		Spread:     make([]float64, len(priceA)),
		Signal:     signal,
	}
}

func signAware(t *testing.T) *ReturnsEngine {
	t.Helper()
	engine, err := NewReturnsEngine(models.CompoundingSignAware)
	require.NoError(t, err)
	return engine
}

func TestReturnsEngine_UsesPreviousSignal(t *testing.T) {
	// Price difference A-B is 10, 11, 12.
	frame := signalFrame(
		[]float64{20, 21, 22},
		[]float64{10, 10, 10},
		models.Flat, models.LongSpread, models.LongSpread,
	)

	out, err := signAware(t).ComputeReturns(frame)
	require.NoError(t, err)

	assert.Equal(t, 0.0, out.Returns[0])
	assert.Equal(t, 0.0, out.Returns[1], "period 2 must use the flat signal of period 1")
	assert.InDelta(t, 12.0/11.0-1, out.Returns[2], 1e-12)

	assert.Equal(t, []float64{0, 0, 0}, out.ReturnsB)
	assert.InDelta(t, 0.05, out.ReturnsA[1], 1e-12)
	assert.Equal(t, 0.0, out.ReturnsA[0])

	assert.Equal(t, 1.0, out.Equity[0])
	assert.Equal(t, 1.0, out.Equity[1])
	assert.InDelta(t, 12.0/11.0, out.Equity[2], 1e-12)

	assert.Nil(t, frame.Returns, "input frame must not be mutated")
}

func TestReturnsEngine_ShortPositionEarnsOnConvergence(t *testing.T) {
	frame := signalFrame(
		[]float64{30, 25},
		[]float64{10, 10},
		models.ShortSpread, models.Flat,
	)
	out, err := signAware(t).ComputeReturns(frame)
	require.NoError(t, err)
	// Difference fell from 20 to 15: -25% times a short position.
	assert.InDelta(t, 0.25, out.Returns[1], 1e-12)
	assert.InDelta(t, 1.25, out.Equity[1], 1e-12)
}

func TestReturnsEngine_ZeroDifferenceBase(t *testing.T) {
	frame := signalFrame(
		[]float64{10, 12},
		[]float64{10, 10},
		models.LongSpread, models.LongSpread,
	)
	out, err := signAware(t).ComputeReturns(frame)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Returns[1])
}

func TestReturnsEngine_RequiresSignals(t *testing.T) {
	frame := signalFrame([]float64{1, 2}, []float64{2, 1})
	_, err := signAware(t).ComputeReturns(frame)
	assert.ErrorIs(t, err, ErrSignalsNotGenerated)

	_, err = signAware(t).ComputeReturns(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	short := signalFrame([]float64{1, 2}, []float64{2, 1}, models.Flat)
	_, err = signAware(t).ComputeReturns(short)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEquityCurve_ZeroReturnsStayAtOne(t *testing.T) {
	for _, mode := range []models.Compounding{models.CompoundingSignAware, models.CompoundingStandard} {
		engine, err := NewReturnsEngine(mode)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 1, 1, 1}, engine.EquityCurve(make([]float64, 4)))
	}
	assert.Empty(t, signAware(t).EquityCurve(nil))
}

func TestEquityCurve_NegativeBase(t *testing.T) {
	returns := []float64{0, -2, 0.5}

	signAwareCurve := signAware(t).EquityCurve(returns)
	// 1 -> 1 + (-2)*1 = -1 -> -1 - 0.5*(-1) = -0.5
	assert.Equal(t, []float64{1, -1, -0.5}, signAwareCurve)

	standard, err := NewReturnsEngine(models.CompoundingStandard)
	require.NoError(t, err)
	// 1 -> -1 -> -1 * 1.5 = -1.5
	assert.Equal(t, []float64{1, -1, -1.5}, standard.EquityCurve(returns))
}

func TestEquityCurve_MatchesStandardWhilePositive(t *testing.T) {
	returns := []float64{0, 0.1, -0.05, 0.2}
	standard, err := NewReturnsEngine(models.CompoundingStandard)
	require.NoError(t, err)

	a := signAware(t).EquityCurve(returns)
	b := standard.EquityCurve(returns)
	for i := range a {
		assert.InDelta(t, b[i], a[i], 1e-12)
	}
}

func TestNewReturnsEngine_Modes(t *testing.T) {
	engine, err := NewReturnsEngine("")
	require.NoError(t, err)
	assert.Equal(t, models.CompoundingSignAware, engine.Compounding())

	_, err = NewReturnsEngine("log")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestReturnsEngine_PortfolioSummary(t *testing.T) {
	engine := signAware(t)
	_, err := engine.PortfolioSummary(signalFrame([]float64{1}, []float64{0}, models.Flat))
	assert.ErrorIs(t, err, ErrReturnsNotComputed)

	frame := &models.PairFrame{
		Returns: []float64{0, 0.1, -0.1, 0.2},
		Equity:  []float64{1, 1.1, 0.99, 1.188},
		Signal:  []models.SignalState{models.LongSpread, models.LongSpread, models.Flat, models.ShortSpread},
	}
	summary, err := engine.PortfolioSummary(frame)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, summary.Mean, 1e-12)
	assert.InDelta(t, sampleStdDev(frame.Returns), summary.StdDev, 1e-12)
	assert.InDelta(t, 0.1290994, summary.StdDev, 1e-6)

	report, err := engine.Report(frame)
	require.NoError(t, err)
	assert.True(t, report.FinalEquity.Equal(decimal.RequireFromString("1.188")))
	assert.True(t, report.TotalReturn.Equal(decimal.RequireFromString("0.188")))
	assert.True(t, report.MaxDrawdown.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 2, report.Entries)
	assert.True(t, report.Exposure.Equal(decimal.RequireFromString("0.75")))
}

func TestReturnsEngine_RejectsOverflowingReturns(t *testing.T) {
	// Finite prices whose difference jumps from 1e-300 to 1e300.
	frame := signalFrame(
		[]float64{1e-300, 1e300},
		[]float64{0, 0},
		models.LongSpread, models.LongSpread,
	)
	_, err := signAware(t).ComputeReturns(frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonFiniteReturn)
	assert.Contains(t, err.Error(), "A/B")

	// Staying flat does not hide an overflowing leg.
	frame = signalFrame(
		[]float64{1, 1e-300, 1e300},
		[]float64{0, 0, 0},
		models.Flat, models.Flat, models.Flat,
	)
	_, err = signAware(t).ComputeReturns(frame)
	assert.ErrorIs(t, err, ErrNonFiniteReturn)
}

func TestReturnsEngine_ReportRejectsNonFiniteEquity(t *testing.T) {
	engine := signAware(t)
	for name, frame := range map[string]*models.PairFrame{
		"infinite equity": {
			Returns: []float64{0, math.Inf(1)},
			Equity:  []float64{1, math.Inf(1)},
			Signal:  []models.SignalState{models.LongSpread, models.LongSpread},
		},
		"nan equity": {
			Returns: []float64{0, math.NaN()},
			Equity:  []float64{1, math.NaN()},
			Signal:  []models.SignalState{models.Flat, models.Flat},
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := engine.Report(frame)
				assert.ErrorIs(t, err, ErrNonFiniteReturn)

				_, err = engine.PortfolioSummary(frame)
				assert.ErrorIs(t, err, ErrNonFiniteReturn)
			})
		})
	}
}

func TestSampleStdDev(t *testing.T) {
	assert.Equal(t, 0.0, sampleStdDev(nil))
	assert.Equal(t, 0.0, sampleStdDev([]float64{3}))
	assert.Equal(t, 0.0, mean(nil))
	assert.InDelta(t, 2.5, mean([]float64{1, 2, 3, 4}), 1e-12)
	// Var of 2,4,4,4,5,5,7,9 is 32/7 with the n-1 divisor.
	assert.InDelta(t, math.Sqrt(32.0/7.0), sampleStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
	// Large offsets must not cancel the spread.
	assert.InDelta(t, 1.0, sampleStdDev([]float64{1e9 + 1, 1e9 + 2, 1e9 + 3}), 1e-9)
}

func TestReturnsEngine_EndToEndFixture(t *testing.T) {
	pair := models.NewPair("A", "B")
	train, test := splitTable(t, []string{"A", "B"}, 4,
		[]float64{10, 12, 11, 13, 20, 15, 12},
		[]float64{20, 21, 22, 23, 20, 21, 22},
	)
	trainFrame, testFrame, err := NewPairNormalizer().Normalize(pair, train, test)
	require.NoError(t, err)

	signals, err := NewSignalEngine().GenerateSignals(trainFrame, testFrame, 1)
	require.NoError(t, err)
	out, err := signAware(t).ComputeReturns(signals)
	require.NoError(t, err)

	assert.Len(t, out.Returns, 3)
	assert.Len(t, out.Equity, 3)
	assert.Equal(t, 1.0, out.Equity[0])
	assert.Equal(t, trainFrame.Params, out.Params)
}
