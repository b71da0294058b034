package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/database"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BacktestService runs and ranks pairs over a price table.
type BacktestService interface {
	Run(ctx context.Context, table *models.PriceTable, params models.BacktestParams) (*models.BacktestRun, error)
	RankOnly(ctx context.Context, table *models.PriceTable, params models.BacktestParams) ([]models.Pair, error)
	Distances() []string
}

// RunStore reads completed runs.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*models.BacktestRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.BacktestRun, error)
	GetEquity(ctx context.Context, id uuid.UUID, rank int) ([]database.EquityPoint, error)
}

// ReportWriter renders a run as a workbook.
type ReportWriter interface {
	Write(w io.Writer, run *models.BacktestRun) error
}

// BacktestHandler serves ranking and backtest endpoints.
type BacktestHandler struct {
	backtester BacktestService
	runs       RunStore
	prices     PriceSource
	reports    ReportWriter
	defaults   models.BacktestParams
	logger     *logging.StandardLogger
}

// NewBacktestHandler creates a handler. prices and reports may be nil.
func NewBacktestHandler(backtester BacktestService, runs RunStore, prices PriceSource, reports ReportWriter, defaults models.BacktestParams, logger *logging.StandardLogger) *BacktestHandler {
	if logger == nil {
		logger = logging.NewStandardLoggerFrom(nil)
	}
	return &BacktestHandler{
		backtester: backtester,
		runs:       runs,
		prices:     prices,
		reports:    reports,
		defaults:   defaults,
		logger:     logger,
	}
}

// ListDistances returns the registered distance names.
// @Router /api/v1/distances [get]
func (h *BacktestHandler) ListDistances(c *gin.Context) {
	respondData(c, http.StatusOK, gin.H{
		"distances": h.backtester.Distances(),
		"default":   h.defaults.Distance,
	})
}

// RankPairs ranks candidate pairs on the training window without running them.
// @Router /api/v1/pairs/rank [post]
func (h *BacktestHandler) RankPairs(c *gin.Context) {
	table, params, err := bindBacktestInput(c, h.prices, h.defaults)
	if err != nil {
		respondError(c, err)
		return
	}
	pairs, err := h.backtester.RankOnly(c.Request.Context(), table, params)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"pairs": pairs, "count": len(pairs)})
}

// CreateBacktest runs a backtest. With ?format=xlsx the response is the workbook
// report; otherwise JSON, including per-pair frames when ?frames=true.
// @Router /api/v1/backtests [post]
func (h *BacktestHandler) CreateBacktest(c *gin.Context) {
	table, params, err := bindBacktestInput(c, h.prices, h.defaults)
	if err != nil {
		respondError(c, err)
		return
	}

	run, err := h.backtester.Run(c.Request.Context(), table, params)
	if err != nil && run == nil {
		respondError(c, err)
		return
	}

	var warning string
	if err != nil {
		// The run completed but could not be stored.
		h.logger.WithRunID(run.ID.String()).WithError(err).Error("Backtest run not persisted")
		warning = err.Error()
	}

	if c.Query("format") == "xlsx" {
		h.writeWorkbook(c, http.StatusCreated, run)
		return
	}

	body := gin.H{"success": true, "data": runView(run, c.Query("frames") == "true")}
	if warning != "" {
		body["warning"] = warning
	}
	c.JSON(http.StatusCreated, body)
}

// ListBacktests returns recent runs without per-pair results.
// @Router /api/v1/backtests [get]
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 500 {
			respondBadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = v
	}
	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetBacktest returns one stored run.
// @Router /api/v1/backtests/{id} [get]
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") == "xlsx" {
		run, err = h.withStoredCurves(c.Request.Context(), run)
		if err != nil {
			respondError(c, err)
			return
		}
		h.writeWorkbook(c, http.StatusOK, run)
		return
	}
	respondData(c, http.StatusOK, runView(run, c.Query("frames") == "true"))
}

// GetEquity returns the test-window curve of one ranked pair.
// @Router /api/v1/backtests/{id}/pairs/{rank}/equity [get]
func (h *BacktestHandler) GetEquity(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	rank, err := strconv.Atoi(c.Param("rank"))
	if err != nil || rank < 1 {
		respondBadRequest(c, "rank must be a positive integer")
		return
	}
	points, err := h.runs.GetEquity(c.Request.Context(), id, rank)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"run_id": id, "rank": rank, "points": points})
}

func (h *BacktestHandler) writeWorkbook(c *gin.Context, status int, run *models.BacktestRun) {
	if h.reports == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "workbook export is not configured"})
		return
	}
	var buf bytes.Buffer
	if err := h.reports.Write(&buf, run); err != nil {
		respondError(c, fmt.Errorf("failed to render workbook: %w", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="backtest-%s.xlsx"`, run.ID))
	c.Data(status, xlsxContentType, buf.Bytes())
}

// withStoredCurves fills results that came back without a frame from the
// persisted test-window curve. Prices are not stored, so those frames carry
// the curve columns only.
func (h *BacktestHandler) withStoredCurves(ctx context.Context, run *models.BacktestRun) (*models.BacktestRun, error) {
	missing := false
	for _, res := range run.Results {
		if res.Frame == nil {
			missing = true
			break
		}
	}
	if !missing {
		return run, nil
	}

	view := *run
	view.Results = make([]models.PairResult, len(run.Results))
	for i, res := range run.Results {
		if res.Frame == nil {
			points, err := h.runs.GetEquity(ctx, run.ID, res.Pair.Rank)
			switch {
			case errors.Is(err, database.ErrRunNotFound):
				h.logger.WithRunID(run.ID.String()).WithField("rank", res.Pair.Rank).Warn("No stored curve for pair")
			case err != nil:
				return nil, fmt.Errorf("failed to load curve of %s: %w", res.Pair.Name(), err)
			default:
				res.Frame = curveFrame(res, points)
			}
		}
		view.Results[i] = res
	}
	return &view, nil
}

func curveFrame(res models.PairResult, points []database.EquityPoint) *models.PairFrame {
	n := len(points)
	frame := &models.PairFrame{
		Pair:       res.Pair,
		Window:     models.WindowTest,
		Params:     res.Params,
		Sigma:      res.Sigma,
		Timestamps: make([]time.Time, n),
		Spread:     make([]float64, n),
		Signal:     make([]models.SignalState, n),
		Returns:    make([]float64, n),
		Equity:     make([]float64, n),
	}
	for i, p := range points {
		frame.Timestamps[i] = p.Timestamp
		frame.Spread[i] = p.Spread
		frame.Signal[i] = p.Signal
		frame.Returns[i] = p.Returns
		frame.Equity[i] = p.Equity
	}
	return frame
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid backtest id")
		return uuid.Nil, false
	}
	return id, true
}

// runView returns run without per-pair frames unless frames is set.
func runView(run *models.BacktestRun, frames bool) *models.BacktestRun {
	if frames || len(run.Results) == 0 {
		return run
	}
	view := *run
	view.Results = make([]models.PairResult, len(run.Results))
	for i, res := range run.Results {
		res.Frame = nil
		view.Results[i] = res
	}
	return &view
}
