// Package exporter writes backtest runs to Excel workbooks: a Summary sheet
// with run metadata and per-pair metrics, and one sheet per completed pair
// holding its test-window frame and an equity chart.
package exporter

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet     = "Summary"
	DefaultSMAPeriod = 20
	maxSheetName     = 31
	timestampLayout  = "2006-01-02 15:04:05"
)

var frameHeader = []interface{}{
	"Date", "A", "B", "NormA", "NormB", "Spread", "SpreadSMA", "Signal",
	"ReturnA", "ReturnB", "Returns", "Equity",
}

var summaryHeader = []interface{}{
	"Rank", "Pair", "Distance", "Sigma", "Mean Return", "Std Return",
	"Final Equity", "Total Return", "Max Drawdown", "Entries", "Exposure", "Status",
}

// WorkbookExporter renders runs into workbooks.
type WorkbookExporter struct {
	smaPeriod int
	charts    bool
}

// Option configures a WorkbookExporter.
type Option func(*WorkbookExporter)

// WithSMAPeriod sets the spread moving-average window. Values below 1 are ignored.
func WithSMAPeriod(period int) Option {
	return func(e *WorkbookExporter) {
		if period >= 1 {
			e.smaPeriod = period
		}
	}
}

// WithCharts toggles the equity line chart on pair sheets.
func WithCharts(enabled bool) Option {
	return func(e *WorkbookExporter) { e.charts = enabled }
}

func NewWorkbookExporter(opts ...Option) *WorkbookExporter {
	e := &WorkbookExporter{smaPeriod: DefaultSMAPeriod, charts: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build renders run into a new workbook. The caller closes it.
func (e *WorkbookExporter) Build(run *models.BacktestRun) (*excelize.File, error) {
	if run == nil {
		return nil, fmt.Errorf("run is nil")
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Distance pairs backtest " + run.ID.String(),
		Subject: "Pairs trading backtest",
		Created: run.CompletedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		f.Close()
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	names := make(map[string]bool)
	if err := e.writeSummary(f, run, bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	names[SummarySheet] = true

	for _, res := range run.Results {
		if res.Frame == nil {
			continue
		}
		name := uniqueSheetName(SheetName(res.Pair), names)
		names[name] = true
		if err := e.writeFrame(f, name, res.Frame, bold); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write sheet for %s: %w", res.Pair.Name(), err)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// Write renders run as XLSX into w.
func (e *WorkbookExporter) Write(w io.Writer, run *models.BacktestRun) error {
	f, err := e.Build(run)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile renders run into the workbook at path.
func (e *WorkbookExporter) WriteFile(path string, run *models.BacktestRun) error {
	f, err := e.Build(run)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func (e *WorkbookExporter) writeSummary(f *excelize.File, run *models.BacktestRun, bold int) error {
	meta := [][]interface{}{
		{"Run ID", run.ID.String()},
		{"Distance", run.Params.Distance},
		{"Threshold", run.Params.Threshold},
		{"Compounding", string(run.Params.Compounding)},
		{"Train Window", windowLabel(run.TrainStart, run.TrainEnd)},
		{"Test Window", windowLabel(run.TestStart, run.TestEnd)},
		{"Pairs Ranked", len(run.Pairs)},
		{"Pairs Failed", len(run.Failures)},
	}
	if note := frameNote(run); note != "" {
		meta = append(meta, []interface{}{"Pair Sheets", note})
	}
	for i, row := range meta {
		if err := setRow(f, SummarySheet, 1, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(meta)), bold); err != nil {
		return err
	}

	headerRow := len(meta) + 2
	if err := setRow(f, SummarySheet, 1, headerRow, summaryHeader); err != nil {
		return err
	}
	end, _ := excelize.CoordinatesToCellName(len(summaryHeader), headerRow)
	if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("A%d", headerRow), end, bold); err != nil {
		return err
	}

	failed := make(map[string]models.PairFailure, len(run.Failures))
	for _, fl := range run.Failures {
		failed[fl.Pair.Key()] = fl
	}
	results := make(map[string]models.PairResult, len(run.Results))
	for _, res := range run.Results {
		results[res.Pair.Key()] = res
	}

	row := headerRow + 1
	for _, p := range run.Pairs {
		var values []interface{}
		if res, ok := results[p.Key()]; ok {
			values = []interface{}{
				p.Rank, p.Name(), p.Distance, res.Sigma, res.Summary.Mean, res.Summary.StdDev,
				res.Report.FinalEquity.InexactFloat64(), res.Report.TotalReturn.InexactFloat64(),
				res.Report.MaxDrawdown.InexactFloat64(), res.Report.Entries,
				res.Report.Exposure.InexactFloat64(), "ok",
			}
		} else if fl, ok := failed[p.Key()]; ok {
			values = []interface{}{p.Rank, p.Name(), p.Distance, nil, nil, nil, nil, nil, nil, nil, nil,
				fmt.Sprintf("failed at %s: %s", fl.Stage, fl.Error)}
		} else {
			continue
		}
		if err := setRow(f, SummarySheet, 1, row, values); err != nil {
			return err
		}
		row++
	}
	return f.SetColWidth(SummarySheet, "A", "L", 16)
}

func (e *WorkbookExporter) writeFrame(f *excelize.File, sheet string, frame *models.PairFrame, bold int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := append([]interface{}(nil), frameHeader...)
	header[1] = frame.Pair.A
	header[2] = frame.Pair.B
	if err := setRow(f, sheet, 1, 1, header); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "L1", bold); err != nil {
		return err
	}

	sma := SpreadSMA(frame.Spread, e.smaPeriod)
	for i := 0; i < frame.Len(); i++ {
		values := []interface{}{
			frame.Timestamps[i].UTC().Format(timestampLayout),
			optionalFloat(frame.PriceA, i), optionalFloat(frame.PriceB, i),
			optionalFloat(frame.NormA, i), optionalFloat(frame.NormB, i),
			cellValue(frame.Spread[i]),
			cellValue(sma[i]),
			optionalSignal(frame, i),
			optionalFloat(frame.ReturnsA, i), optionalFloat(frame.ReturnsB, i),
			optionalFloat(frame.Returns, i), optionalFloat(frame.Equity, i),
		}
		if err := setRow(f, sheet, 1, i+2, values); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "A", 20); err != nil {
		return err
	}

	if e.charts && frame.HasReturns() && frame.Len() > 1 {
		last := frame.Len() + 1
		ref := quoteSheet(sheet)
		return f.AddChart(sheet, "N2", &excelize.Chart{
			Type: excelize.Line,
			Series: []excelize.ChartSeries{{
				Name:       "Equity",
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", ref, last),
				Values:     fmt.Sprintf("%s!$L$2:$L$%d", ref, last),
			}},
			Title:  []excelize.RichTextRun{{Text: frame.Pair.Name() + " equity"}},
			Legend: excelize.ChartLegend{Position: "none"},
		})
	}
	return nil
}

// SpreadSMA returns the simple moving average of spread aligned to its input.
// The first period-1 positions, or all of them for a shorter series, are NaN.
func SpreadSMA(spread []float64, period int) []float64 {
	out := make([]float64, len(spread))
	for i := range out {
		out[i] = math.NaN()
	}
	if period < 1 || len(spread) < period {
		return out
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	values := helper.ChanToSlice(sma.Compute(helper.SliceToChan(spread)))
	copy(out[len(out)-len(values):], values)
	return out
}

// SheetName derives a worksheet name for a pair, replacing characters Excel
// rejects and truncating to the 31-character limit.
func SheetName(p models.Pair) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, fmt.Sprintf("%d %s-%s", p.Rank, p.A, p.B))
	name = strings.Trim(name, "'")
	if name == "" || strings.EqualFold(name, "history") {
		name = fmt.Sprintf("Pair %d", p.Rank)
	}
	return truncate(name, maxSheetName)
}

func uniqueSheetName(name string, taken map[string]bool) string {
	candidate := name
	for i := 2; takenFold(candidate, taken); i++ {
		suffix := fmt.Sprintf("~%d", i)
		candidate = truncate(name, maxSheetName-len(suffix)) + suffix
	}
	return candidate
}

// Excel compares sheet names case-insensitively.
func takenFold(name string, taken map[string]bool) bool {
	for t := range taken {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// frameNote explains pair sheets that are missing or lack price columns.
func frameNote(run *models.BacktestRun) string {
	var absent, curveOnly int
	for _, res := range run.Results {
		switch {
		case res.Frame == nil:
			absent++
		case len(res.Frame.PriceA) < res.Frame.Len():
			curveOnly++
		}
	}
	switch {
	case absent > 0:
		return fmt.Sprintf("%d of %d pairs have no stored curve and no sheet", absent, len(run.Results))
	case curveOnly > 0:
		return "rebuilt from the stored curve; price and normalized columns are blank"
	}
	return ""
}

func windowLabel(start, end time.Time) string {
	return start.UTC().Format(timestampLayout) + " to " + end.UTC().Format(timestampLayout)
}

func setRow(f *excelize.File, sheet string, col, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func cellValue(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func optionalFloat(values []float64, i int) interface{} {
	if i >= len(values) {
		return nil
	}
	return cellValue(values[i])
}

func optionalSignal(frame *models.PairFrame, i int) interface{} {
	if i >= len(frame.Signal) {
		return nil
	}
	return int(frame.Signal[i])
}
