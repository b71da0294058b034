package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalState is the position held on the spread of a pair.
type SignalState int

const (
	// ShortSpread sells A and buys B.
	ShortSpread SignalState = -1
	// Flat holds no position.
	Flat SignalState = 0
	// LongSpread buys A and sells B.
	LongSpread SignalState = 1
)

// String returns the wire name of the state.
func (s SignalState) String() string {
	switch s {
	case LongSpread:
		return "long_spread"
	case ShortSpread:
		return "short_spread"
	case Flat:
		return "flat"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Float returns the signed position size used by return computation.
func (s SignalState) Float() float64 { return float64(s) }

// Valid reports whether s is one of the three known states.
func (s SignalState) Valid() bool {
	return s == LongSpread || s == ShortSpread || s == Flat
}

// MarshalJSON encodes the state as its numeric position (+1, -1, 0).
func (s SignalState) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

// UnmarshalJSON accepts either the numeric position or the wire name.
func (s *SignalState) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		state := SignalState(n)
		if !state.Valid() {
			return fmt.Errorf("invalid signal state %d", n)
		}
		*s = state
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("invalid signal state: %s", string(data))
	}
	switch name {
	case "long_spread":
		*s = LongSpread
	case "short_spread":
		*s = ShortSpread
	case "flat":
		*s = Flat
	default:
		return fmt.Errorf("invalid signal state %q", name)
	}
	return nil
}

// Window identifies which side of the train/test split a frame belongs to.
type Window string

const (
	WindowTrain Window = "train"
	WindowTest  Window = "test"
)

// NormalizationParams are the min-max parameters fitted on a training window.
type NormalizationParams struct {
	MinA float64 `json:"min_a"`
	MaxA float64 `json:"max_a"`
	MinB float64 `json:"min_b"`
	MaxB float64 `json:"max_b"`
}

// NormalizeA maps a raw price of A onto the fitted scale.
func (p NormalizationParams) NormalizeA(x float64) float64 {
	return (x - p.MinA) / (p.MaxA - p.MinA)
}

// NormalizeB maps a raw price of B onto the fitted scale.
func (p NormalizationParams) NormalizeB(x float64) float64 {
	return (x - p.MinB) / (p.MaxB - p.MinB)
}

// PairFrame is the per-pair, per-window table flowing through the pipeline.
// Signal, return and equity columns stay nil until the stage producing them has run.
type PairFrame struct {
	Pair       Pair                `json:"pair"`
	Window     Window              `json:"window"`
	Params     NormalizationParams `json:"params"`
	Timestamps []time.Time         `json:"timestamps"`
	PriceA     []float64           `json:"price_a"`
	PriceB     []float64           `json:"price_b"`
	NormA      []float64           `json:"norm_a"`
	NormB      []float64           `json:"norm_b"`
	Spread     []float64           `json:"spread"`

	Sigma     float64       `json:"sigma,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Signal    []SignalState `json:"signal,omitempty"`

	ReturnsA []float64 `json:"returns_a,omitempty"`
	ReturnsB []float64 `json:"returns_b,omitempty"`
	Returns  []float64 `json:"returns,omitempty"`
	Equity   []float64 `json:"equity,omitempty"`
}

// Len returns the number of rows.
func (f *PairFrame) Len() int { return len(f.Timestamps) }

// HasSignals reports whether the signal stage has run on this frame.
func (f *PairFrame) HasSignals() bool { return f.Signal != nil }

// HasReturns reports whether the returns stage has run on this frame.
func (f *PairFrame) HasReturns() bool { return f.Returns != nil && f.Equity != nil }

// Clone returns a deep copy so a stage can extend a frame without touching its input.
func (f *PairFrame) Clone() *PairFrame {
	c := *f
	c.Timestamps = cloneSlice(f.Timestamps)
	c.PriceA = cloneSlice(f.PriceA)
	c.PriceB = cloneSlice(f.PriceB)
	c.NormA = cloneSlice(f.NormA)
	c.NormB = cloneSlice(f.NormB)
	c.Spread = cloneSlice(f.Spread)
	c.Signal = cloneSlice(f.Signal)
	c.ReturnsA = cloneSlice(f.ReturnsA)
	c.ReturnsB = cloneSlice(f.ReturnsB)
	c.Returns = cloneSlice(f.Returns)
	c.Equity = cloneSlice(f.Equity)
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
