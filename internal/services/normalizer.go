package services

import (
	"fmt"

	"github.com/irfndi/distance-pairs/internal/models"
)

// PairNormalizer fits min-max parameters on a training window and applies
// them unchanged to the matching testing window.
type PairNormalizer struct{}

// NewPairNormalizer creates a PairNormalizer.
func NewPairNormalizer() *PairNormalizer {
	return &PairNormalizer{}
}

// FitParams computes the normalization parameters of pair from train alone.
func (n *PairNormalizer) FitParams(pair models.Pair, train *models.PriceTable) (models.NormalizationParams, error) {
	if train == nil || train.Len() == 0 {
		return models.NormalizationParams{}, fmt.Errorf("%w: training window is empty", ErrInsufficientData)
	}
	a, b, err := pairColumns(pair, train)
	if err != nil {
		return models.NormalizationParams{}, err
	}

	var p models.NormalizationParams
	p.MinA, p.MaxA = minMax(a)
	p.MinB, p.MaxB = minMax(b)
	if p.MaxA == p.MinA {
		return models.NormalizationParams{}, fmt.Errorf("%w: %s is constant (%v) in the training window",
			ErrDegenerateNormalization, pair.A, p.MinA)
	}
	if p.MaxB == p.MinB {
		return models.NormalizationParams{}, fmt.Errorf("%w: %s is constant (%v) in the training window",
			ErrDegenerateNormalization, pair.B, p.MinB)
	}
	return p, nil
}

// Normalize builds the training and testing frames of pair. Both frames
// share the parameters fitted on train; test data never influences them.
func (n *PairNormalizer) Normalize(pair models.Pair, train, test *models.PriceTable) (*models.PairFrame, *models.PairFrame, error) {
	if test == nil {
		return nil, nil, fmt.Errorf("%w: testing window is nil", ErrInvalidInput)
	}
	if _, _, err := pairColumns(pair, test); err != nil {
		return nil, nil, err
	}
	params, err := n.FitParams(pair, train)
	if err != nil {
		return nil, nil, err
	}
	if test.Len() > 0 && !test.First().After(train.Last()) {
		return nil, nil, fmt.Errorf("%w: test starts %s, train ends %s",
			ErrLookAhead, test.First().Format("2006-01-02T15:04:05"), train.Last().Format("2006-01-02T15:04:05"))
	}

	trainFrame, err := buildFrame(pair, models.WindowTrain, params, train)
	if err != nil {
		return nil, nil, err
	}
	testFrame, err := buildFrame(pair, models.WindowTest, params, test)
	if err != nil {
		return nil, nil, err
	}
	return trainFrame, testFrame, nil
}

func buildFrame(pair models.Pair, window models.Window, params models.NormalizationParams, table *models.PriceTable) (*models.PairFrame, error) {
	a, b, err := pairColumns(pair, table)
	if err != nil {
		return nil, err
	}
	frame := &models.PairFrame{
		Pair:       pair,
		Window:     window,
		Params:     params,
		Timestamps: table.Timestamps(),
		PriceA:     a,
		PriceB:     b,
		NormA:      make([]float64, len(a)),
		NormB:      make([]float64, len(b)),
		Spread:     make([]float64, len(a)),
	}
	for i := range a {
		frame.NormA[i] = params.NormalizeA(a[i])
		frame.NormB[i] = params.NormalizeB(b[i])
		frame.Spread[i] = frame.NormA[i] - frame.NormB[i]
		if !isFinite(frame.Spread[i]) {
			return nil, fmt.Errorf("%w: %s %s window row %d", ErrNonFiniteSpread, pair.Name(), window, i)
		}
	}
	return frame, nil
}

func pairColumns(pair models.Pair, table *models.PriceTable) ([]float64, []float64, error) {
	if pair.A == pair.B {
		return nil, nil, fmt.Errorf("%w: pair %s repeats an asset", ErrInvalidInput, pair.Name())
	}
	if !table.HasAsset(pair.A) || !table.HasAsset(pair.B) {
		return nil, nil, fmt.Errorf("%w: table does not carry both legs of %s", ErrInvalidInput, pair.Name())
	}
	a, err := table.Column(pair.A)
	if err != nil {
		return nil, nil, err
	}
	b, err := table.Column(pair.B)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
