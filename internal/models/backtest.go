package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compounding selects how the equity curve compounds period returns.
type Compounding string

const (
	// CompoundingSignAware grows equity by return*|equity| so a negative base keeps compounding losses.
	CompoundingSignAware Compounding = "sign_aware"
	// CompoundingStandard grows equity by equity*(1+return).
	CompoundingStandard Compounding = "standard"
)

// BacktestParams configures one backtest run.
type BacktestParams struct {
	Top         int         `json:"top" mapstructure:"top"`
	Threshold   float64     `json:"threshold" mapstructure:"threshold"`
	TrainRatio  float64     `json:"train_ratio,omitempty" mapstructure:"train_ratio"`
	SplitAt     *time.Time  `json:"split_at,omitempty" mapstructure:"-"`
	Distance    string      `json:"distance" mapstructure:"distance"`
	Compounding Compounding `json:"compounding" mapstructure:"compounding"`
	Workers     int         `json:"workers,omitempty" mapstructure:"workers"`
}

// PortfolioSummary holds the raw statistics of a pair's realized returns.
type PortfolioSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// PairReport holds reporting metrics derived from a pair's equity curve.
type PairReport struct {
	FinalEquity decimal.Decimal `json:"final_equity"`
	TotalReturn decimal.Decimal `json:"total_return"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	Entries     int             `json:"entries"`
	Exposure    decimal.Decimal `json:"exposure"`
}

// PairResult is the completed pipeline output for one pair.
type PairResult struct {
	Pair    Pair                `json:"pair"`
	Params  NormalizationParams `json:"normalization"`
	Sigma   float64             `json:"sigma"`
	Summary PortfolioSummary    `json:"summary"`
	Report  PairReport          `json:"report"`
	Frame   *PairFrame          `json:"frame,omitempty"`
}

// PairFailure records a pair whose pipeline stopped with an error.
type PairFailure struct {
	Pair  Pair   `json:"pair"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// BacktestRun is the outcome of one backtest over a price table.
type BacktestRun struct {
	ID          uuid.UUID      `json:"id"`
	Params      BacktestParams `json:"params"`
	Assets      []string       `json:"assets"`
	TrainStart  time.Time      `json:"train_start"`
	TrainEnd    time.Time      `json:"train_end"`
	TestStart   time.Time      `json:"test_start"`
	TestEnd     time.Time      `json:"test_end"`
	Pairs       []Pair         `json:"pairs"`
	Results     []PairResult   `json:"results"`
	Failures    []PairFailure  `json:"failures,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
}

// Succeeded reports whether every ranked pair produced a result.
func (r *BacktestRun) Succeeded() bool {
	return len(r.Failures) == 0
}
