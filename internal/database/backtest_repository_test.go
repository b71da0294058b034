package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runColumns = []string{
	"id", "params", "assets", "train_start", "train_end", "test_start", "test_end",
	"pairs", "failures", "started_at", "completed_at", "duration_ms",
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleRun() *models.BacktestRun {
	start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	pair := models.Pair{A: "KO", B: "PEP", Distance: 0.25, Rank: 1}
	return &models.BacktestRun{
		ID: uuid.MustParse("0b6f1c1e-4a55-4f3e-9d1c-3c8f1f2b7a10"),
		Params: models.BacktestParams{
			Top: 2, Threshold: 2, TrainRatio: 0.5, Distance: "sum_squared", Compounding: models.CompoundingSignAware,
		},
		Assets:     []string{"KO", "PEP", "XOM"},
		TrainStart: start,
		TrainEnd:   start.Add(day),
		TestStart:  start.Add(2 * day),
		TestEnd:    start.Add(3 * day),
		Pairs:      []models.Pair{pair, {A: "KO", B: "XOM", Distance: 0.5, Rank: 2}},
		Results: []models.PairResult{{
			Pair:    pair,
			Params:  models.NormalizationParams{MinA: 1, MaxA: 2, MinB: 3, MaxB: 4},
			Sigma:   0.1,
			Summary: models.PortfolioSummary{Mean: 0.01, StdDev: 0.02},
			Report: models.PairReport{
				FinalEquity: decimal.RequireFromString("1.02"),
				TotalReturn: decimal.RequireFromString("0.02"),
				MaxDrawdown: decimal.Zero,
				Entries:     1,
				Exposure:    decimal.RequireFromString("0.5"),
			},
			Frame: &models.PairFrame{
				Pair:       pair,
				Timestamps: []time.Time{start.Add(2 * day), start.Add(3 * day)},
				Spread:     []float64{0.3, 0.1},
				Signal:     []models.SignalState{models.ShortSpread, models.Flat},
				Returns:    []float64{0, 0.02},
				Equity:     []float64{1, 1.02},
			},
		}},
		Failures: []models.PairFailure{{
			Pair: models.Pair{A: "KO", B: "XOM", Rank: 2}, Stage: "normalize", Error: "degenerate",
		}},
		StartedAt:   start.Add(4 * day),
		CompletedAt: start.Add(4*day + 1500*time.Millisecond),
		Duration:    1500 * time.Millisecond,
	}
}

func TestBacktestRepository_SaveRun(t *testing.T) {
	mock := newMockPool(t)
	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(append([]interface{}{run.ID}, anyArgs(11)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO backtest_pair_results").
		WithArgs(append([]interface{}{run.ID, 1, "KO", "PEP"}, anyArgs(13)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"backtest_equity"}, equityColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, NewBacktestRepository(mock).SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBacktestRepository_SaveRunRollsBack(t *testing.T) {
	mock := newMockPool(t)
	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(anyArgs(12)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO backtest_pair_results").
		WithArgs(anyArgs(17)...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewBacktestRepository(mock).SaveRun(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KO/PEP")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBacktestRepository_SaveRunBeginFails(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	err := NewBacktestRepository(mock).SaveRun(context.Background(), sampleRun())
	assert.ErrorContains(t, err, "pool exhausted")
	assert.Error(t, NewBacktestRepository(mock).SaveRun(context.Background(), nil))
}

func TestEquityRows(t *testing.T) {
	run := sampleRun()
	rows := equityRows(run.ID, run.Results[0])
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{run.ID, 1, run.TestStart, 0.3, int16(-1), 0.0, 1.0}, rows[0])

	noFrame := run.Results[0]
	noFrame.Frame = nil
	assert.Nil(t, equityRows(run.ID, noFrame))
}

func runRow(t *testing.T, run *models.BacktestRun) []interface{} {
	t.Helper()
	params, err := json.Marshal(run.Params)
	require.NoError(t, err)
	pairs, err := json.Marshal(run.Pairs)
	require.NoError(t, err)
	failures, err := json.Marshal(run.Failures)
	require.NoError(t, err)
	return []interface{}{
		run.ID, params, run.Assets, run.TrainStart, run.TrainEnd, run.TestStart, run.TestEnd,
		pairs, failures, run.StartedAt, run.CompletedAt, run.Duration.Milliseconds(),
	}
}

func TestBacktestRepository_GetRun(t *testing.T) {
	mock := newMockPool(t)
	want := sampleRun()
	res := want.Results[0]

	mock.ExpectQuery("SELECT (.+) FROM backtest_runs WHERE id").
		WithArgs(want.ID).
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(runRow(t, want)...))
	mock.ExpectQuery("SELECT (.+) FROM backtest_pair_results").
		WithArgs(want.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"rank", "asset_a", "asset_b", "distance", "min_a", "max_a", "min_b", "max_b",
			"sigma", "mean_return", "std_return", "final_equity", "total_return", "max_drawdown",
			"entries", "exposure",
		}).AddRow(
			res.Pair.Rank, res.Pair.A, res.Pair.B, res.Pair.Distance,
			res.Params.MinA, res.Params.MaxA, res.Params.MinB, res.Params.MaxB,
			res.Sigma, res.Summary.Mean, res.Summary.StdDev,
			res.Report.FinalEquity, res.Report.TotalReturn, res.Report.MaxDrawdown,
			res.Report.Entries, res.Report.Exposure,
		))

	got, err := NewBacktestRepository(mock).GetRun(context.Background(), want.ID)
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.Pairs, got.Pairs)
	assert.Equal(t, want.Failures, got.Failures)
	assert.Equal(t, want.Duration, got.Duration)
	require.Len(t, got.Results, 1)
	assert.Nil(t, got.Results[0].Frame)
	assert.Equal(t, res.Pair, got.Results[0].Pair)
	assert.True(t, res.Report.FinalEquity.Equal(got.Results[0].Report.FinalEquity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBacktestRepository_GetRunNotFound(t *testing.T) {
	mock := newMockPool(t)
	id := uuid.New()
	mock.ExpectQuery("FROM backtest_runs").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := NewBacktestRepository(mock).GetRun(context.Background(), id)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestBacktestRepository_ListRuns(t *testing.T) {
	mock := newMockPool(t)
	run := sampleRun()
	run.Failures = nil

	mock.ExpectQuery("FROM backtest_runs ORDER BY started_at DESC").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(runRow(t, run)...))

	runs, err := NewBacktestRepository(mock).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Nil(t, runs[0].Failures)
	assert.Empty(t, runs[0].Results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBacktestRepository_GetEquity(t *testing.T) {
	mock := newMockPool(t)
	run := sampleRun()
	cols := []string{"ts", "spread", "signal", "returns", "equity"}

	mock.ExpectQuery("FROM backtest_equity").
		WithArgs(run.ID, 1).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(run.TestStart, 0.3, int16(-1), 0.0, 1.0).
			AddRow(run.TestEnd, 0.1, int16(0), 0.02, 1.02))

	points, err := NewBacktestRepository(mock).GetEquity(context.Background(), run.ID, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, models.ShortSpread, points[0].Signal)
	assert.Equal(t, 1.02, points[1].Equity)

	mock.ExpectQuery("FROM backtest_equity").
		WithArgs(run.ID, 9).
		WillReturnRows(pgxmock.NewRows(cols))
	_, err = NewBacktestRepository(mock).GetEquity(context.Background(), run.ID, 9)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
