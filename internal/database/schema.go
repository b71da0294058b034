package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// schemaStatements are applied in order by Migrate. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS asset_prices (
		ts    TIMESTAMPTZ      NOT NULL,
		asset TEXT             NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (asset, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_asset_prices_ts ON asset_prices (ts)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id           UUID PRIMARY KEY,
		params       JSONB       NOT NULL,
		assets       TEXT[]      NOT NULL,
		train_start  TIMESTAMPTZ NOT NULL,
		train_end    TIMESTAMPTZ NOT NULL,
		test_start   TIMESTAMPTZ NOT NULL,
		test_end     TIMESTAMPTZ NOT NULL,
		pairs        JSONB       NOT NULL,
		failures     JSONB       NOT NULL DEFAULT '[]',
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		duration_ms  BIGINT      NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_started_at ON backtest_runs (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS backtest_pair_results (
		run_id       UUID             NOT NULL REFERENCES backtest_runs (id) ON DELETE CASCADE,
		rank         INTEGER          NOT NULL,
		asset_a      TEXT             NOT NULL,
		asset_b      TEXT             NOT NULL,
		distance     DOUBLE PRECISION NOT NULL,
		min_a        DOUBLE PRECISION NOT NULL,
		max_a        DOUBLE PRECISION NOT NULL,
		min_b        DOUBLE PRECISION NOT NULL,
		max_b        DOUBLE PRECISION NOT NULL,
		sigma        DOUBLE PRECISION NOT NULL,
		mean_return  DOUBLE PRECISION NOT NULL,
		std_return   DOUBLE PRECISION NOT NULL,
		final_equity NUMERIC(24, 8)   NOT NULL,
		total_return NUMERIC(24, 8)   NOT NULL,
		max_drawdown NUMERIC(24, 8)   NOT NULL,
		entries      INTEGER          NOT NULL,
		exposure     NUMERIC(24, 8)   NOT NULL,
		PRIMARY KEY (run_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_equity (
		run_id  UUID             NOT NULL REFERENCES backtest_runs (id) ON DELETE CASCADE,
		rank    INTEGER          NOT NULL,
		ts      TIMESTAMPTZ      NOT NULL,
		spread  DOUBLE PRECISION NOT NULL,
		signal  SMALLINT         NOT NULL,
		returns DOUBLE PRECISION NOT NULL,
		equity  DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, rank, ts)
	)`,
}

// Migrate creates the tables used by the price and backtest repositories.
func Migrate(ctx context.Context, db DatabasePool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	logrus.WithField("statements", len(schemaStatements)).Debug("Database schema is up to date")
	return nil
}
