package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPriceTable is returned when a PriceTable would violate its invariants.
var ErrInvalidPriceTable = errors.New("invalid price table")

// PriceTable is an immutable, time-indexed table of asset prices.
// Columns are stored per asset in the order they were supplied.
type PriceTable struct {
	timestamps []time.Time
	assets     []string
	columns    [][]float64
	index      map[string]int
}

// NewPriceTable validates and copies the supplied data into a new PriceTable.
//
// Parameters:
//   - timestamps: strictly increasing row timestamps.
//   - assets: unique asset names, one per column.
//   - columns: one price series per asset, each len(timestamps) long.
//
// Returns:
//   - The table, or an error wrapping ErrInvalidPriceTable.
func NewPriceTable(timestamps []time.Time, assets []string, columns [][]float64) (*PriceTable, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: at least one asset column is required", ErrInvalidPriceTable)
	}
	if len(columns) != len(assets) {
		return nil, fmt.Errorf("%w: %d asset names for %d columns", ErrInvalidPriceTable, len(assets), len(columns))
	}

	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return nil, fmt.Errorf("%w: timestamp at row %d is not after row %d", ErrInvalidPriceTable, i, i-1)
		}
	}

	index := make(map[string]int, len(assets))
	copied := make([][]float64, len(columns))
	for i, name := range assets {
		if name == "" {
			return nil, fmt.Errorf("%w: asset name at column %d is empty", ErrInvalidPriceTable, i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %q", ErrInvalidPriceTable, name)
		}
		index[name] = i

		if len(columns[i]) != len(timestamps) {
			return nil, fmt.Errorf("%w: asset %q has %d values for %d timestamps",
				ErrInvalidPriceTable, name, len(columns[i]), len(timestamps))
		}
		for row, v := range columns[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: asset %q has a missing value at row %d", ErrInvalidPriceTable, name, row)
			}
		}
		copied[i] = append([]float64(nil), columns[i]...)
	}

	return &PriceTable{
		timestamps: append([]time.Time(nil), timestamps...),
		assets:     append([]string(nil), assets...),
		columns:    copied,
		index:      index,
	}, nil
}

// Len returns the number of rows.
func (t *PriceTable) Len() int { return len(t.timestamps) }

// Assets returns the asset names in column order.
func (t *PriceTable) Assets() []string { return append([]string(nil), t.assets...) }

// Timestamps returns a copy of the row timestamps.
func (t *PriceTable) Timestamps() []time.Time { return append([]time.Time(nil), t.timestamps...) }

// HasAsset reports whether the table carries a column for asset.
func (t *PriceTable) HasAsset(asset string) bool {
	_, ok := t.index[asset]
	return ok
}

// Column returns a copy of the price series for asset.
func (t *PriceTable) Column(asset string) ([]float64, error) {
	i, ok := t.index[asset]
	if !ok {
		return nil, fmt.Errorf("asset %q not found in price table", asset)
	}
	return append([]float64(nil), t.columns[i]...), nil
}

// ColumnAt returns a copy of the i-th column, in the order of Assets. It
// panics when i is out of range, like a slice index.
func (t *PriceTable) ColumnAt(i int) []float64 {
	return append([]float64(nil), t.columns[i]...)
}

// First returns the first timestamp. The zero time is returned for an empty table.
func (t *PriceTable) First() time.Time {
	if len(t.timestamps) == 0 {
		return time.Time{}
	}
	return t.timestamps[0]
}

// Last returns the last timestamp. The zero time is returned for an empty table.
func (t *PriceTable) Last() time.Time {
	if len(t.timestamps) == 0 {
		return time.Time{}
	}
	return t.timestamps[len(t.timestamps)-1]
}

// Slice returns rows [start, end) as a new table.
func (t *PriceTable) Slice(start, end int) (*PriceTable, error) {
	if start < 0 || end > len(t.timestamps) || start > end {
		return nil, fmt.Errorf("slice [%d:%d] out of range for %d rows", start, end, len(t.timestamps))
	}
	cols := make([][]float64, len(t.columns))
	for i, col := range t.columns {
		cols[i] = col[start:end]
	}
	return NewPriceTable(t.timestamps[start:end], t.assets, cols)
}

// SplitAt returns rows [0, index) and [index, Len()) as two disjoint tables.
func (t *PriceTable) SplitAt(index int) (*PriceTable, *PriceTable, error) {
	head, err := t.Slice(0, index)
	if err != nil {
		return nil, nil, err
	}
	tail, err := t.Slice(index, len(t.timestamps))
	if err != nil {
		return nil, nil, err
	}
	return head, tail, nil
}

// SplitRatio splits the table so that the head holds floor(ratio*Len()) rows.
func (t *PriceTable) SplitRatio(ratio float64) (*PriceTable, *PriceTable, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, fmt.Errorf("split ratio must be in (0, 1), got %v", ratio)
	}
	return t.SplitAt(int(math.Floor(ratio * float64(len(t.timestamps)))))
}

// SplitTime splits the table into rows strictly before at and rows at or after it.
func (t *PriceTable) SplitTime(at time.Time) (*PriceTable, *PriceTable, error) {
	idx := len(t.timestamps)
	for i, ts := range t.timestamps {
		if !ts.Before(at) {
			idx = i
			break
		}
	}
	return t.SplitAt(idx)
}

// Select returns a table carrying only the named assets, in the given order.
func (t *PriceTable) Select(assets ...string) (*PriceTable, error) {
	cols := make([][]float64, len(assets))
	for i, name := range assets {
		j, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("asset %q not found in price table", name)
		}
		cols[i] = t.columns[j]
	}
	return NewPriceTable(t.timestamps, assets, cols)
}
