package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned when no backtest run has the requested ID.
var ErrRunNotFound = errors.New("backtest run not found")

var equityColumns = []string{"run_id", "rank", "ts", "spread", "signal", "returns", "equity"}

// BacktestRepository persists completed backtest runs.
type BacktestRepository struct {
	pool DatabasePool
}

func NewBacktestRepository(pool DatabasePool) *BacktestRepository {
	return &BacktestRepository{pool: pool}
}

// SaveRun writes the run, its pair results and the test-window equity curves in one transaction.
func (r *BacktestRepository) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode run params: %w", err)
	}
	pairs, err := json.Marshal(run.Pairs)
	if err != nil {
		return fmt.Errorf("failed to encode ranked pairs: %w", err)
	}
	failures := run.Failures
	if failures == nil {
		failures = []models.PairFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode pair failures: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_runs (
			id, params, assets, train_start, train_end, test_start, test_end,
			pairs, failures, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, params, run.Assets, run.TrainStart, run.TrainEnd, run.TestStart, run.TestEnd,
		pairs, failuresJSON, run.StartedAt, run.CompletedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	var equity [][]interface{}
	for _, res := range run.Results {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_pair_results (
				run_id, rank, asset_a, asset_b, distance, min_a, max_a, min_b, max_b,
				sigma, mean_return, std_return, final_equity, total_return, max_drawdown,
				entries, exposure
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			run.ID, res.Pair.Rank, res.Pair.A, res.Pair.B, res.Pair.Distance,
			res.Params.MinA, res.Params.MaxA, res.Params.MinB, res.Params.MaxB,
			res.Sigma, res.Summary.Mean, res.Summary.StdDev,
			res.Report.FinalEquity, res.Report.TotalReturn, res.Report.MaxDrawdown,
			res.Report.Entries, res.Report.Exposure,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", res.Pair.Name(), err)
		}
		equity = append(equity, equityRows(run.ID, res)...)
	}

	if len(equity) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backtest_equity"}, equityColumns, pgx.CopyFromRows(equity)); err != nil {
			return fmt.Errorf("failed to copy equity curves: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backtest run: %w", err)
	}
	committed = true
	return nil
}

func equityRows(runID uuid.UUID, res models.PairResult) [][]interface{} {
	f := res.Frame
	if f == nil || !f.HasReturns() {
		return nil
	}
	rows := make([][]interface{}, 0, f.Len())
	for i, ts := range f.Timestamps {
		rows = append(rows, []interface{}{
			runID, res.Pair.Rank, ts, f.Spread[i], int16(f.Signal[i]), f.Returns[i], f.Equity[i],
		})
	}
	return rows
}

// GetRun loads a run with its pair results. Frames are not reloaded; use GetEquity for curves.
func (r *BacktestRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.BacktestRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `
		SELECT id, params, assets, train_start, train_end, test_start, test_end,
		       pairs, failures, started_at, completed_at, duration_ms
		FROM backtest_runs
		WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT rank, asset_a, asset_b, distance, min_a, max_a, min_b, max_b,
		       sigma, mean_return, std_return, final_equity, total_return, max_drawdown,
		       entries, exposure
		FROM backtest_pair_results
		WHERE run_id = $1
		ORDER BY rank`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var res models.PairResult
		err := rows.Scan(
			&res.Pair.Rank, &res.Pair.A, &res.Pair.B, &res.Pair.Distance,
			&res.Params.MinA, &res.Params.MaxA, &res.Params.MinB, &res.Params.MaxB,
			&res.Sigma, &res.Summary.Mean, &res.Summary.StdDev,
			&res.Report.FinalEquity, &res.Report.TotalReturn, &res.Report.MaxDrawdown,
			&res.Report.Entries, &res.Report.Exposure,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pair result: %w", err)
		}
		run.Results = append(run.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pair results: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs without their pair results.
func (r *BacktestRepository) ListRuns(ctx context.Context, limit int) ([]*models.BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, params, assets, train_start, train_end, test_start, test_end,
		       pairs, failures, started_at, completed_at, duration_ms
		FROM backtest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backtest runs: %w", err)
	}
	return runs, nil
}

// EquityPoint is one stored row of a pair's test-window curve.
type EquityPoint struct {
	Timestamp time.Time          `json:"timestamp"`
	Spread    float64            `json:"spread"`
	Signal    models.SignalState `json:"signal"`
	Returns   float64            `json:"returns"`
	Equity    float64            `json:"equity"`
}

// GetEquity loads the stored curve of the pair ranked rank in run id.
func (r *BacktestRepository) GetEquity(ctx context.Context, id uuid.UUID, rank int) ([]EquityPoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ts, spread, signal, returns, equity
		FROM backtest_equity
		WHERE run_id = $1 AND rank = $2
		ORDER BY ts`, id, rank)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity curve: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		var signal int16
		if err := rows.Scan(&p.Timestamp, &p.Spread, &signal, &p.Returns, &p.Equity); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		p.Signal = models.SignalState(signal)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equity curve: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrRunNotFound
	}
	return points, nil
}

func scanRun(row pgx.Row) (*models.BacktestRun, error) {
	var (
		run                     models.BacktestRun
		params, pairs, failures []byte
		durationMS              int64
	)
	err := row.Scan(
		&run.ID, &params, &run.Assets, &run.TrainStart, &run.TrainEnd, &run.TestStart, &run.TestEnd,
		&pairs, &failures, &run.StartedAt, &run.CompletedAt, &durationMS,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode run params: %w", err)
	}
	if err := json.Unmarshal(pairs, &run.Pairs); err != nil {
		return nil, fmt.Errorf("failed to decode ranked pairs: %w", err)
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode pair failures: %w", err)
		}
		if len(run.Failures) == 0 {
			run.Failures = nil
		}
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
