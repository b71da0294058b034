// Package distance provides the pluggable distance functions used to rank
// candidate pairs. A distance function compares two equal-length normalized
// price series and returns a scalar; smaller means more co-moving.
package distance

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Func compares two equal-length series. Implementations must be pure.
type Func func(a, b []float64) float64

// Built-in distance names.
const (
	SumSquared  = "sum_squared"
	Euclidean   = "euclidean"
	Manhattan   = "manhattan"
	Correlation = "correlation"
)

// SumSquaredDistance is the sum of squared differences between the two series.
func SumSquaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := b[i] - a[i]
		sum += d * d
	}
	return sum
}

// EuclideanDistance is the square root of SumSquaredDistance.
func EuclideanDistance(a, b []float64) float64 {
	return math.Sqrt(SumSquaredDistance(a, b))
}

// ManhattanDistance is the sum of absolute differences.
func ManhattanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(b[i] - a[i])
	}
	return sum
}

// CorrelationDistance is 1 - Pearson correlation, in [0, 2].
// Series with zero variance are treated as uncorrelated (distance 1).
func CorrelationDistance(a, b []float64) float64 {
	n := len(a)
	if n == 0 {
		return 1
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var num, denA, denB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	den := math.Sqrt(denA * denB)
	if den == 0 {
		return 1
	}
	corr := num / den
	if corr > 1 {
		corr = 1
	} else if corr < -1 {
		corr = -1
	}
	return 1 - corr
}

// Registry maps names to distance functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry holding the built-in functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.funcs[SumSquared] = SumSquaredDistance
	r.funcs[Euclidean] = EuclideanDistance
	r.funcs[Manhattan] = ManhattanDistance
	r.funcs[Correlation] = CorrelationDistance
	return r
}

// Register adds or replaces a named function.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("distance name is required")
	}
	if fn == nil {
		return fmt.Errorf("distance function %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Get looks up a function by name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown distance function %q", name)
	}
	return fn, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
