package services

import (
	"fmt"

	"github.com/irfndi/distance-pairs/internal/models"
)

// SignalEngine turns a normalized spread into positions on the spread.
type SignalEngine struct{}

// NewSignalEngine creates a SignalEngine.
func NewSignalEngine() *SignalEngine {
	return &SignalEngine{}
}

// Transition returns the state following prev after observing spread.
// The exit rule is checked first: a long position closes once the spread is
// above zero and a short one once it is below zero. Only when no exit fires
// can a spread at or beyond threshold*sigma open a position; otherwise the
// previous state is held.
func Transition(prev models.SignalState, spread, sigma, threshold float64) models.SignalState {
	switch {
	case prev == models.LongSpread && spread > 0:
		return models.Flat
	case prev == models.ShortSpread && spread < 0:
		return models.Flat
	}

	band := threshold * sigma
	switch {
	case spread >= band:
		return models.ShortSpread
	case spread <= -band:
		return models.LongSpread
	default:
		return prev
	}
}

// Fold runs Transition over spreads in order, starting Flat.
func Fold(spreads []float64, sigma, threshold float64) []models.SignalState {
	out := make([]models.SignalState, len(spreads))
	state := models.Flat
	for i, s := range spreads {
		state = Transition(state, s, sigma, threshold)
		out[i] = state
	}
	return out
}

// Volatility returns the sample standard deviation of the training spread.
func (e *SignalEngine) Volatility(train *models.PairFrame) (float64, error) {
	if train == nil || len(train.Spread) < 2 {
		n := 0
		if train != nil {
			n = len(train.Spread)
		}
		return 0, fmt.Errorf("%w: training spread has %d rows, need at least 2", ErrInsufficientData, n)
	}
	return sampleStdDev(train.Spread), nil
}

// GenerateSignals returns a copy of test carrying a Signal column. The
// volatility band is fitted on train and held fixed over the whole test window.
func (e *SignalEngine) GenerateSignals(train, test *models.PairFrame, threshold float64) (*models.PairFrame, error) {
	if !(threshold > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if test == nil {
		return nil, fmt.Errorf("%w: testing frame is nil", ErrInvalidInput)
	}
	sigma, err := e.Volatility(train)
	if err != nil {
		return nil, err
	}
	if sigma == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDegenerateSpread, test.Pair.Name())
	}
	if train.Pair.Key() != test.Pair.Key() {
		return nil, fmt.Errorf("%w: training frame is for %s, testing frame for %s",
			ErrInvalidInput, train.Pair.Name(), test.Pair.Name())
	}

	out := test.Clone()
	out.Sigma = sigma
	out.Threshold = threshold
	out.Signal = Fold(test.Spread, sigma, threshold)
	return out, nil
}
