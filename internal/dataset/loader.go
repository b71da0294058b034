// Package dataset reads wide price tables (a timestamp column followed by
// one numeric column per asset) from CSV and XLSX and validates them into
// models.PriceTable.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/xuri/excelize/v2"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses RFC 3339 timestamps, ISO datetimes without zone and plain dates. Zone-less values are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// LoadCSV reads a header row followed by data rows.
func LoadCSV(r io.Reader) (*models.PriceTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return fromRecords(records, ParseTimestamp)
}

// LoadXLSX reads sheet from a workbook. An empty sheet name selects the first sheet.
// Timestamp cells may be text or Excel date serials.
func LoadXLSX(r io.Reader, sheet string) (*models.PriceTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, NewValidationError(CodeEmptyTable, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return fromRecords(rows, parseExcelTimestamp)
}

// LoadFile dispatches on the file extension: .csv, or .xlsx/.xlsm.
func LoadFile(path string, sheet string) (*models.PriceTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(file)
	case ".xlsx", ".xlsm":
		return LoadXLSX(file, sheet)
	default:
		return nil, fmt.Errorf("unsupported data file extension %q", filepath.Ext(path))
	}
}

func parseExcelTimestamp(value string) (time.Time, error) {
	if t, err := ParseTimestamp(value); err == nil {
		return t, nil
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	}
	return excelize.ExcelDateToTime(serial, false)
}

func isMissing(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "", "nan", "na", "n/a", "null":
		return true
	}
	return false
}

// fromRecords validates the header and cells and builds the table.
func fromRecords(records [][]string, parseTime func(string) (time.Time, error)) (*models.PriceTable, error) {
	if len(records) == 0 {
		return nil, NewValidationError(CodeEmptyTable, "table has no header row")
	}
	header := records[0]
	if len(header) < 2 {
		return nil, NewValidationError(CodeTooFewColumns, msgTooFewColumns)
	}

	assets := make([]string, len(header)-1)
	seen := make(map[string]bool, len(assets))
	for i, name := range header[1:] {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, NewValidationErrorf(CodeInvalidColumnName, "column %d has an empty name", i+2)
		}
		if seen[name] {
			return nil, NewValidationError(CodeInvalidColumnName, "duplicate column name").at(0, name)
		}
		seen[name] = true
		assets[i] = name
	}

	rows := records[1:]
	if len(rows) == 0 {
		return nil, NewValidationError(CodeEmptyTable, "table has no data rows")
	}

	timestamps := make([]time.Time, len(rows))
	for r, row := range rows {
		if len(row) == 0 {
			return nil, NewValidationError(CodeFirstColumnNotTimestamp, msgFirstColumnNotTimestamp).at(r+1, header[0])
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, NewValidationError(CodeFirstColumnNotTimestamp, msgFirstColumnNotTimestamp).at(r+1, header[0])
		}
		timestamps[r] = ts
	}

	columns := make([][]float64, len(assets))
	for c := range columns {
		columns[c] = make([]float64, len(rows))
	}
	// Type errors take precedence over missing values.
	for r, row := range rows {
		for c := range assets {
			if c+1 >= len(row) || isMissing(row[c+1]) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[c+1]), 64)
			if err != nil || math.IsInf(v, 0) {
				return nil, NewValidationError(CodeNonNumericColumn, msgNonNumericColumn).at(r+1, assets[c])
			}
			columns[c][r] = v
		}
	}
	for r, row := range rows {
		for c := range assets {
			if c+1 >= len(row) || isMissing(row[c+1]) {
				return nil, NewValidationError(CodeMissingValue, "missing price value").at(r+1, assets[c])
			}
		}
	}

	for r := 1; r < len(timestamps); r++ {
		if !timestamps[r].After(timestamps[r-1]) {
			return nil, NewValidationError(CodeTimestampsNotIncreasing, "timestamps must be strictly increasing").at(r+1, header[0])
		}
	}

	table, err := models.NewPriceTable(timestamps, assets, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to build price table: %w", err)
	}
	return table, nil
}
