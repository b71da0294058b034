package database

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/distance-pairs/internal/dataset"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/jackc/pgx/v5"
)

var priceColumns = []string{"ts", "asset", "price"}

// PriceRepository stores long-format prices and pivots them into wide tables.
type PriceRepository struct {
	pool DatabasePool
}

func NewPriceRepository(pool DatabasePool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// ListAssets returns every stored asset in lexical order.
func (r *PriceRepository) ListAssets(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT asset FROM asset_prices ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}

// LoadTable pivots prices in [from, to) into a table with one column per asset,
// in the order given. A zero bound is open. Empty assets loads every stored asset.
// Timestamps where any asset has no price are reported as missing values.
func (r *PriceRepository) LoadTable(ctx context.Context, assets []string, from, to time.Time) (*models.PriceTable, error) {
	if len(assets) == 0 {
		var err error
		if assets, err = r.ListAssets(ctx); err != nil {
			return nil, err
		}
	}
	if len(assets) < 2 {
		return nil, dataset.NewValidationErrorf(dataset.CodeTooFewColumns, "need at least two assets, have %d", len(assets))
	}

	var fromArg, toArg interface{}
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ts, asset, price
		FROM asset_prices
		WHERE asset = ANY($1)
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts < $3)
		ORDER BY ts, asset`, assets, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int, len(assets))
	for i, a := range assets {
		index[a] = i
	}

	var (
		timestamps []time.Time
		byRow      [][]float64
		present    [][]bool
	)
	for rows.Next() {
		var (
			ts    time.Time
			asset string
			price float64
		)
		if err := rows.Scan(&ts, &asset, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		col, ok := index[asset]
		if !ok {
			continue
		}
		ts = ts.UTC()
		if n := len(timestamps); n == 0 || !timestamps[n-1].Equal(ts) {
			timestamps = append(timestamps, ts)
			byRow = append(byRow, make([]float64, len(assets)))
			present = append(present, make([]bool, len(assets)))
		}
		last := len(timestamps) - 1
		byRow[last][col] = price
		present[last][col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}
	if len(timestamps) == 0 {
		return nil, dataset.NewValidationError(dataset.CodeEmptyTable, "no prices stored for the requested assets and range")
	}

	columns := make([][]float64, len(assets))
	for c := range columns {
		columns[c] = make([]float64, len(timestamps))
		for row := range timestamps {
			if !present[row][c] {
				return nil, &dataset.ValidationError{
					Code:    dataset.CodeMissingValue,
					Message: fmt.Sprintf("no price at %s", timestamps[row].Format(time.RFC3339)),
					Row:     row + 1,
					Column:  assets[c],
				}
			}
			columns[c][row] = byRow[row][c]
		}
	}

	table, err := models.NewPriceTable(timestamps, assets, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to build price table: %w", err)
	}
	return table, nil
}

// ImportTable bulk-loads a wide table into asset_prices and returns the number of rows copied.
func (r *PriceRepository) ImportTable(ctx context.Context, table *models.PriceTable) (int64, error) {
	if table == nil || table.Len() == 0 {
		return 0, nil
	}
	timestamps := table.Timestamps()
	assets := table.Assets()

	rows := make([][]interface{}, 0, len(timestamps)*len(assets))
	for _, asset := range assets {
		col, err := table.Column(asset)
		if err != nil {
			return 0, err
		}
		for i, ts := range timestamps {
			rows = append(rows, []interface{}{ts, asset, col[i]})
		}
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"asset_prices"}, priceColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to import prices: %w", err)
	}
	return n, nil
}
