package services

import (
	"errors"
	"fmt"

	"github.com/irfndi/distance-pairs/internal/models"
)

var (
	// ErrInvalidInput reports a table or pair that does not meet a stage's preconditions.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTop reports a non-positive pair count.
	ErrInvalidTop = errors.New("top must be a positive integer")
	// ErrInsufficientPairs reports a pair count above the number of candidate pairs.
	ErrInsufficientPairs = errors.New("not enough candidate pairs")
	// ErrInvalidThreshold reports a non-positive standard deviation multiplier.
	ErrInvalidThreshold = errors.New("threshold must be positive")
	// ErrInvalidParams reports backtest parameters that cannot be used.
	ErrInvalidParams = errors.New("invalid backtest parameters")
	// ErrLookAhead reports a testing window that is not strictly after its training window.
	ErrLookAhead = errors.New("testing window overlaps or precedes training window")
	// ErrDegenerateNormalization reports a zero-range training series.
	ErrDegenerateNormalization = errors.New("degenerate normalization window")
	// ErrInsufficientData reports a training spread too short for a sample standard deviation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateSpread reports a training spread with zero standard deviation.
	ErrDegenerateSpread = errors.New("training spread has zero volatility")
	// ErrSignalsNotGenerated reports returns requested before signals.
	ErrSignalsNotGenerated = errors.New("signals not generated")
	// ErrReturnsNotComputed reports a summary requested before returns.
	ErrReturnsNotComputed = errors.New("returns not computed")
	// ErrNonFiniteSpread reports a normalized price or spread that overflowed to NaN or ±Inf.
	ErrNonFiniteSpread = errors.New("non-finite normalized spread")
	// ErrNonFiniteReturn reports a period return, equity value or statistic that is NaN or ±Inf.
	ErrNonFiniteReturn = errors.New("non-finite return")
)

// Pipeline stage names used in PairError and PairFailure.
const (
	StageNormalize = "normalize"
	StageSignals   = "signals"
	StageReturns   = "returns"
	StageSummary   = "summary"
)

// PairError is a failure isolated to one pair's pipeline.
type PairError struct {
	Pair  models.Pair
	Stage string
	Err   error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("pair %s: %s: %v", e.Pair.Name(), e.Stage, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// IsConfigError reports whether err stems from caller-supplied configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidTop) ||
		errors.Is(err, ErrInsufficientPairs) ||
		errors.Is(err, ErrInvalidThreshold) ||
		errors.Is(err, ErrInvalidParams) ||
		errors.Is(err, ErrInvalidInput)
}
