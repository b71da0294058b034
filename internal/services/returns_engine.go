package services

import (
	"fmt"
	"math"

	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/shopspring/decimal"
)

// ReturnsEngine converts positions into realized returns and an equity curve.
type ReturnsEngine struct {
	compounding models.Compounding
}

// NewReturnsEngine creates a ReturnsEngine. An empty mode selects sign-aware compounding.
func NewReturnsEngine(compounding models.Compounding) (*ReturnsEngine, error) {
	switch compounding {
	case "":
		compounding = models.CompoundingSignAware
	case models.CompoundingSignAware, models.CompoundingStandard:
	default:
		return nil, fmt.Errorf("%w: unknown compounding mode %q", ErrInvalidParams, compounding)
	}
	return &ReturnsEngine{compounding: compounding}, nil
}

// Compounding returns the configured compounding mode.
func (e *ReturnsEngine) Compounding() models.Compounding { return e.compounding }

// ComputeReturns returns a copy of test carrying per-asset returns, strategy
// returns and equity. The return of period t is the percentage change of the
// price difference A-B multiplied by the position held since period t-1.
func (e *ReturnsEngine) ComputeReturns(test *models.PairFrame) (*models.PairFrame, error) {
	if test == nil {
		return nil, fmt.Errorf("%w: testing frame is nil", ErrInvalidInput)
	}
	if !test.HasSignals() {
		return nil, fmt.Errorf("%w: %s", ErrSignalsNotGenerated, test.Pair.Name())
	}
	if len(test.Signal) != test.Len() || len(test.PriceA) != test.Len() || len(test.PriceB) != test.Len() {
		return nil, fmt.Errorf("%w: frame columns for %s have mismatched lengths", ErrInvalidInput, test.Pair.Name())
	}

	out := test.Clone()
	out.ReturnsA = pctChange(test.PriceA)
	out.ReturnsB = pctChange(test.PriceB)

	diff := make([]float64, test.Len())
	for i := range diff {
		diff[i] = test.PriceA[i] - test.PriceB[i]
	}
	diffChange := pctChange(diff)

	out.Returns = make([]float64, test.Len())
	for t := 1; t < test.Len(); t++ {
		out.Returns[t] = diffChange[t] * test.Signal[t-1].Float()
	}
	out.Equity = e.EquityCurve(out.Returns)

	// Finite prices can still overflow: a difference moving from 1e-300 to
	// 1e300 has an infinite percentage change.
	for _, col := range []struct {
		name   string
		values []float64
	}{
		{"return of " + test.Pair.A, out.ReturnsA},
		{"return of " + test.Pair.B, out.ReturnsB},
		{"strategy return", out.Returns},
		{"equity", out.Equity},
	} {
		if i := firstNonFinite(col.values); i >= 0 {
			return nil, fmt.Errorf("%w: %s of %s at row %d is %v",
				ErrNonFiniteReturn, col.name, test.Pair.Name(), i, col.values[i])
		}
	}
	return out, nil
}

// EquityCurve compounds returns from a unit of capital. The first value is
// always 1; returns[0] is ignored because no position precedes it.
func (e *ReturnsEngine) EquityCurve(returns []float64) []float64 {
	equity := make([]float64, len(returns))
	if len(returns) == 0 {
		return equity
	}
	equity[0] = 1
	for t := 1; t < len(returns); t++ {
		prev := equity[t-1]
		r := returns[t]
		switch {
		case e.compounding == models.CompoundingStandard:
			equity[t] = prev * (1 + r)
		case prev >= 0:
			equity[t] = prev + r*prev
		default:
			equity[t] = prev - r*prev
		}
	}
	return equity
}

// PortfolioSummary reports the mean and sample standard deviation of the realized returns.
func (e *ReturnsEngine) PortfolioSummary(test *models.PairFrame) (models.PortfolioSummary, error) {
	if test == nil || !test.HasReturns() {
		return models.PortfolioSummary{}, ErrReturnsNotComputed
	}
	summary := models.PortfolioSummary{
		Mean:   mean(test.Returns),
		StdDev: sampleStdDev(test.Returns),
	}
	if !isFinite(summary.Mean) || !isFinite(summary.StdDev) {
		return models.PortfolioSummary{}, fmt.Errorf("%w: summary of %s is mean=%v std=%v",
			ErrNonFiniteReturn, test.Pair.Name(), summary.Mean, summary.StdDev)
	}
	return summary, nil
}

// Report derives reporting metrics from the equity curve and signal column.
func (e *ReturnsEngine) Report(test *models.PairFrame) (models.PairReport, error) {
	if test == nil || !test.HasReturns() {
		return models.PairReport{}, ErrReturnsNotComputed
	}

	var entries, exposed int
	prev := models.Flat
	for _, s := range test.Signal {
		if s != models.Flat {
			exposed++
			if s != prev {
				entries++
			}
		}
		prev = s
	}

	drawdown, err := finiteDecimal("max drawdown", maxDrawdown(test.Equity))
	if err != nil {
		return models.PairReport{}, err
	}
	report := models.PairReport{
		FinalEquity: decimal.NewFromInt(1),
		TotalReturn: decimal.Zero,
		MaxDrawdown: drawdown.Round(6),
		Entries:     entries,
		Exposure:    decimal.Zero,
	}
	if n := len(test.Equity); n > 0 {
		final, err := finiteDecimal("final equity", test.Equity[n-1])
		if err != nil {
			return models.PairReport{}, err
		}
		report.FinalEquity = final.Round(6)
		report.TotalReturn = final.Sub(decimal.NewFromInt(1)).Round(6)
	}
	if n := len(test.Signal); n > 0 {
		report.Exposure = decimal.NewFromInt(int64(exposed)).Div(decimal.NewFromInt(int64(n))).Round(4)
	}
	return report, nil
}

// finiteDecimal converts v, refusing NaN and ±Inf which decimal.NewFromFloat panics on.
func finiteDecimal(name string, v float64) (decimal.Decimal, error) {
	if !isFinite(v) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s is %v", ErrNonFiniteReturn, name, v)
	}
	return decimal.NewFromFloat(v), nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// firstNonFinite returns the index of the first NaN or ±Inf in values, or -1.
func firstNonFinite(values []float64) int {
	for i, v := range values {
		if !isFinite(v) {
			return i
		}
	}
	return -1
}
