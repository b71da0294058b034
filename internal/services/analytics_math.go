package services

import "math"

// mean is the arithmetic average of values; an empty series averages to 0.
func mean(values []float64) float64 {
	m, _ := meanAndSquares(values)
	return m
}

// sampleStdDev uses the n-1 divisor. A series shorter than two has no spread.
func sampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	_, m2 := meanAndSquares(values)
	return math.Sqrt(m2 / float64(n-1))
}

// meanAndSquares accumulates the running mean and the sum of squared
// deviations from it in one pass.
func meanAndSquares(values []float64) (m, m2 float64) {
	for i, v := range values {
		delta := v - m
		m += delta / float64(i+1)
		m2 += delta * (v - m)
	}
	return m, m2
}

func minMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// pctChange mirrors a simple percentage change with the first period defined as zero.
// A zero base yields a zero change instead of an infinite one.
func pctChange(series []float64) []float64 {
	out := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		out[i] = series[i]/series[i-1] - 1
	}
	return out
}

func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
