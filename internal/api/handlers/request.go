package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/dataset"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/services"
)

// PriceSource loads stored price history.
type PriceSource interface {
	LoadTable(ctx context.Context, assets []string, from, to time.Time) (*models.PriceTable, error)
}

// TableInput is an inline price table: one row of prices per timestamp, in asset order.
type TableInput struct {
	Timestamps []time.Time `json:"timestamps"`
	Assets     []string    `json:"assets"`
	Prices     [][]float64 `json:"prices"`
}

// SourceInput selects stored prices instead of an inline table.
type SourceInput struct {
	Assets []string `json:"assets"`
	From   string   `json:"from"`
	To     string   `json:"to"`
}

// BacktestRequest is the JSON body of the rank and backtest endpoints. Unset
// parameters fall back to the configured defaults.
type BacktestRequest struct {
	Top         *int         `json:"top"`
	Threshold   *float64     `json:"threshold"`
	TrainRatio  *float64     `json:"train_ratio"`
	SplitAt     string       `json:"split_at"`
	Distance    string       `json:"distance"`
	Compounding string       `json:"compounding"`
	Workers     *int         `json:"workers"`
	Table       *TableInput  `json:"table"`
	Source      *SourceInput `json:"source"`
}

// Params overlays the request on defaults.
func (r *BacktestRequest) Params(defaults models.BacktestParams) (models.BacktestParams, error) {
	params := defaults
	if r.Top != nil {
		params.Top = *r.Top
	}
	if r.Threshold != nil {
		params.Threshold = *r.Threshold
	}
	if r.TrainRatio != nil {
		params.TrainRatio = *r.TrainRatio
		params.SplitAt = nil
	}
	if r.SplitAt != "" {
		at, err := dataset.ParseTimestamp(r.SplitAt)
		if err != nil {
			return params, fmt.Errorf("%w: invalid split_at: %v", services.ErrInvalidParams, err)
		}
		params.SplitAt = &at
	}
	if r.Distance != "" {
		params.Distance = r.Distance
	}
	if r.Compounding != "" {
		params.Compounding = models.Compounding(r.Compounding)
	}
	if r.Workers != nil {
		params.Workers = *r.Workers
	}
	return params, nil
}

// PriceTable builds the inline table.
func (t *TableInput) PriceTable() (*models.PriceTable, error) {
	if len(t.Assets) < 2 {
		return nil, dataset.NewValidationError(dataset.CodeTooFewColumns,
			"Dataframe is missing columns. Check that you have both securities and date columns")
	}
	if len(t.Prices) != len(t.Timestamps) {
		return nil, fmt.Errorf("%w: %d price rows for %d timestamps", services.ErrInvalidInput, len(t.Prices), len(t.Timestamps))
	}
	columns := make([][]float64, len(t.Assets))
	for j := range columns {
		columns[j] = make([]float64, len(t.Prices))
	}
	for i, row := range t.Prices {
		if len(row) != len(t.Assets) {
			return nil, fmt.Errorf("%w: row %d has %d prices for %d assets", services.ErrInvalidInput, i, len(row), len(t.Assets))
		}
		for j, v := range row {
			columns[j][i] = v
		}
	}
	return models.NewPriceTable(t.Timestamps, t.Assets, columns)
}

func (s *SourceInput) load(ctx context.Context, prices PriceSource) (*models.PriceTable, error) {
	if prices == nil {
		return nil, fmt.Errorf("%w: stored prices are not available", services.ErrInvalidInput)
	}
	var from, to time.Time
	var err error
	if s.From != "" {
		if from, err = dataset.ParseTimestamp(s.From); err != nil {
			return nil, fmt.Errorf("%w: invalid from: %v", services.ErrInvalidInput, err)
		}
	}
	if s.To != "" {
		if to, err = dataset.ParseTimestamp(s.To); err != nil {
			return nil, fmt.Errorf("%w: invalid to: %v", services.ErrInvalidInput, err)
		}
	}
	return prices.LoadTable(ctx, s.Assets, from, to)
}

// bindBacktestInput reads a price table and parameters from either a multipart
// upload (field "file" plus form parameters) or a JSON BacktestRequest.
func bindBacktestInput(c *gin.Context, prices PriceSource, defaults models.BacktestParams) (*models.PriceTable, models.BacktestParams, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return bindMultipart(c, defaults)
	}

	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, defaults, fmt.Errorf("%w: invalid request body: %v", services.ErrInvalidInput, err)
	}
	params, err := req.Params(defaults)
	if err != nil {
		return nil, params, err
	}
	switch {
	case req.Table != nil && req.Source != nil:
		return nil, params, fmt.Errorf("%w: provide either table or source, not both", services.ErrInvalidInput)
	case req.Table != nil:
		table, err := req.Table.PriceTable()
		return table, params, err
	case req.Source != nil:
		table, err := req.Source.load(c.Request.Context(), prices)
		return table, params, err
	default:
		return nil, params, fmt.Errorf("%w: a price table or source is required", services.ErrInvalidInput)
	}
}

func bindMultipart(c *gin.Context, defaults models.BacktestParams) (*models.PriceTable, models.BacktestParams, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, defaults, fmt.Errorf("%w: price file is required: %v", services.ErrInvalidInput, err)
	}

	req := BacktestRequest{
		SplitAt:     c.PostForm("split_at"),
		Distance:    c.PostForm("distance"),
		Compounding: c.PostForm("compounding"),
	}
	if req.Top, err = formInt(c, "top"); err != nil {
		return nil, defaults, err
	}
	if req.Workers, err = formInt(c, "workers"); err != nil {
		return nil, defaults, err
	}
	if req.Threshold, err = formFloat(c, "threshold"); err != nil {
		return nil, defaults, err
	}
	if req.TrainRatio, err = formFloat(c, "train_ratio"); err != nil {
		return nil, defaults, err
	}
	params, err := req.Params(defaults)
	if err != nil {
		return nil, params, err
	}

	table, err := loadUpload(header, c.PostForm("sheet"))
	return table, params, err
}

func loadUpload(header *multipart.FileHeader, sheet string) (*models.PriceTable, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		return dataset.LoadCSV(f)
	case ".xlsx", ".xlsm":
		return dataset.LoadXLSX(f, sheet)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", services.ErrInvalidInput, filepath.Ext(header.Filename))
	}
}

func formInt(c *gin.Context, key string) (*int, error) {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", services.ErrInvalidParams, key)
	}
	return &v, nil
}

func formFloat(c *gin.Context, key string) (*float64, error) {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", services.ErrInvalidParams, key)
	}
	return &v, nil
}
