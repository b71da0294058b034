package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/distance"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/telemetry"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RankingCache stores ranked pairs under a fingerprint of the ranking inputs.
type RankingCache interface {
	GetRanking(ctx context.Context, key string) ([]models.Pair, bool, error)
	SetRanking(ctx context.Context, key string, pairs []models.Pair) error
}

// RunRepository persists completed runs.
type RunRepository interface {
	SaveRun(ctx context.Context, run *models.BacktestRun) error
}

// RunNotifier announces completed runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *models.BacktestRun) error
}

// Backtester ranks candidate pairs on a training window and runs each
// selected pair through normalization, signal generation and returns.
type Backtester struct {
	registry   *distance.Registry
	ranker     *DistanceRanker
	normalizer *PairNormalizer
	signals    *SignalEngine
	cache      RankingCache
	repository RunRepository
	notifier   RunNotifier
	tracer     *telemetry.BusinessTracer
	logger     *logging.StandardLogger
	workers    int
}

// BacktesterOption configures a Backtester.
type BacktesterOption func(*Backtester)

// WithRegistry sets the distance registry. The process-wide registry is used otherwise.
func WithRegistry(registry *distance.Registry) BacktesterOption {
	return func(b *Backtester) { b.registry = registry }
}

// WithRankingCache enables ranking lookups and stores.
func WithRankingCache(cache RankingCache) BacktesterOption {
	return func(b *Backtester) { b.cache = cache }
}

// WithRunRepository persists every completed run.
func WithRunRepository(repository RunRepository) BacktesterOption {
	return func(b *Backtester) { b.repository = repository }
}

// WithNotifier announces every completed run.
func WithNotifier(notifier RunNotifier) BacktesterOption {
	return func(b *Backtester) { b.notifier = notifier }
}

// WithTracer sets the span helper.
func WithTracer(tracer *telemetry.BusinessTracer) BacktesterOption {
	return func(b *Backtester) { b.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.StandardLogger) BacktesterOption {
	return func(b *Backtester) { b.logger = logger }
}

// WithDefaultWorkers sets the worker count used when params do not name one.
func WithDefaultWorkers(workers int) BacktesterOption {
	return func(b *Backtester) { b.workers = workers }
}

// NewBacktester creates a Backtester.
func NewBacktester(opts ...BacktesterOption) *Backtester {
	b := &Backtester{
		registry:   distance.Default(),
		ranker:     NewDistanceRanker(),
		normalizer: NewPairNormalizer(),
		signals:    NewSignalEngine(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tracer == nil {
		b.tracer = telemetry.NewBusinessTracer(nil)
	}
	if b.logger == nil {
		b.logger = logging.NewStandardLoggerFrom(nil)
	}
	return b
}

// Distances lists the distance names params may select.
func (b *Backtester) Distances() []string {
	return b.registry.Names()
}

// ValidateParams checks params and fills the distance default. Nothing is computed.
func (b *Backtester) ValidateParams(params models.BacktestParams) (models.BacktestParams, error) {
	if params.Top <= 0 {
		return params, fmt.Errorf("%w: got %d", ErrInvalidTop, params.Top)
	}
	if !(params.Threshold > 0) || math.IsInf(params.Threshold, 0) {
		return params, fmt.Errorf("%w: got %v", ErrInvalidThreshold, params.Threshold)
	}
	if params.Distance == "" {
		params.Distance = distance.SumSquared
	}
	if _, err := b.registry.Get(params.Distance); err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	engine, err := NewReturnsEngine(params.Compounding)
	if err != nil {
		return params, err
	}
	params.Compounding = engine.Compounding()
	if params.Workers < 0 {
		return params, fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidParams, params.Workers)
	}
	if params.SplitAt == nil && !(params.TrainRatio > 0 && params.TrainRatio < 1) {
		return params, fmt.Errorf("%w: train ratio must be in (0, 1), got %v", ErrInvalidParams, params.TrainRatio)
	}
	return params, nil
}

// Split divides table into training and testing windows by SplitAt, or by TrainRatio when SplitAt is nil.
func (b *Backtester) Split(table *models.PriceTable, params models.BacktestParams) (*models.PriceTable, *models.PriceTable, error) {
	if table == nil {
		return nil, nil, fmt.Errorf("%w: price table is nil", ErrInvalidInput)
	}
	var (
		train, test *models.PriceTable
		err         error
	)
	if params.SplitAt != nil {
		train, test, err = table.SplitTime(*params.SplitAt)
	} else {
		train, test, err = table.SplitRatio(params.TrainRatio)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if train.Len() < 2 {
		return nil, nil, fmt.Errorf("%w: training window has %d rows, need at least 2", ErrInsufficientData, train.Len())
	}
	if test.Len() < 1 {
		return nil, nil, fmt.Errorf("%w: testing window is empty", ErrInsufficientData)
	}
	return train, test, nil
}

// RankOnly validates params, splits the table and returns the ranked pairs of the training window.
func (b *Backtester) RankOnly(ctx context.Context, table *models.PriceTable, params models.BacktestParams) ([]models.Pair, error) {
	params, err := b.ValidateParams(params)
	if err != nil {
		return nil, err
	}
	train, _, err := b.Split(table, params)
	if err != nil {
		return nil, err
	}
	return b.rank(ctx, train, params)
}

func (b *Backtester) rank(ctx context.Context, train *models.PriceTable, params models.BacktestParams) ([]models.Pair, error) {
	fn, err := b.registry.Get(params.Distance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	n := len(train.Assets())
	ctx, span := b.tracer.TraceRanking(ctx, params.Distance, CandidatePairCount(n))
	defer span.End()

	key := RankingKey(train, params.Distance, params.Top)
	if b.cache != nil {
		pairs, ok, err := b.cache.GetRanking(ctx, key)
		if err != nil {
			b.logger.WithComponent("backtester").WithError(err).Warn("Ranking cache lookup failed")
		} else if ok {
			return pairs, nil
		}
	}

	pairs, err := b.ranker.Rank(train, fn, params.Top)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.SetRanking(ctx, key, pairs); err != nil {
			b.logger.WithComponent("backtester").WithError(err).Warn("Ranking cache store failed")
		}
	}
	return pairs, nil
}

// Run executes a full backtest. Failures confined to one pair are recorded in
// the run; configuration and ranking errors abort it.
func (b *Backtester) Run(ctx context.Context, table *models.PriceTable, params models.BacktestParams) (*models.BacktestRun, error) {
	params, err := b.ValidateParams(params)
	if err != nil {
		return nil, err
	}
	returns, err := NewReturnsEngine(params.Compounding)
	if err != nil {
		return nil, err
	}
	train, test, err := b.Split(table, params)
	if err != nil {
		return nil, err
	}

	run := &models.BacktestRun{
		ID:         uuid.New(),
		Params:     params,
		Assets:     table.Assets(),
		TrainStart: train.First(),
		TrainEnd:   train.Last(),
		TestStart:  test.First(),
		TestEnd:    test.Last(),
		StartedAt:  time.Now().UTC(),
	}
	log := b.logger.WithRunID(run.ID.String())

	ctx, span := b.tracer.TraceBacktestRun(ctx, run.ID.String(), len(run.Assets), params.Top)
	defer span.End()

	pairs, err := b.rank(ctx, train, params)
	if err != nil {
		return nil, err
	}
	run.Pairs = pairs

	log.WithFields(logrus.Fields{
		"pairs":       len(pairs),
		"distance":    params.Distance,
		"train_rows":  train.Len(),
		"test_rows":   test.Len(),
		"compounding": params.Compounding,
	}).Info("Running pair pipelines")

	results := make([]*models.PairResult, len(pairs))
	failures := make([]*PairError, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workerCount(params))
	for i, pair := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], failures[i] = b.runPair(gctx, pair, train, test, params.Threshold, returns)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range pairs {
		if results[i] != nil {
			run.Results = append(run.Results, *results[i])
			continue
		}
		if f := failures[i]; f != nil {
			log.WithFields(logrus.Fields{"pair": f.Pair.Name(), "stage": f.Stage}).WithError(f.Err).Warn("Pair pipeline failed")
			run.Failures = append(run.Failures, models.PairFailure{Pair: f.Pair, Stage: f.Stage, Error: f.Err.Error()})
		}
	}

	run.CompletedAt = time.Now().UTC()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	b.tracer.RecordRunOutcome(span, len(run.Results), len(run.Failures))
	b.logger.LogBusinessEvent("backtest_completed", map[string]interface{}{
		"run_id":    run.ID.String(),
		"succeeded": len(run.Results),
		"failed":    len(run.Failures),
		"duration":  run.Duration.String(),
	})

	if b.repository != nil {
		if err := b.repository.SaveRun(ctx, run); err != nil {
			return run, fmt.Errorf("failed to persist run %s: %w", run.ID, err)
		}
	}
	if b.notifier != nil {
		if err := b.notifier.NotifyRun(ctx, run); err != nil {
			log.WithError(err).Warn("Run notification failed")
		}
	}
	return run, nil
}

func (b *Backtester) runPair(ctx context.Context, pair models.Pair, train, test *models.PriceTable, threshold float64, returns *ReturnsEngine) (*models.PairResult, *PairError) {
	_, span := b.tracer.TracePair(ctx, pair.Name(), pair.Rank)
	defer span.End()

	fail := func(stage string, err error) (*models.PairResult, *PairError) {
		b.tracer.RecordPairFailure(span, stage, err)
		return nil, &PairError{Pair: pair, Stage: stage, Err: err}
	}

	trainFrame, testFrame, err := b.normalizer.Normalize(pair, train, test)
	if err != nil {
		return fail(StageNormalize, err)
	}
	withSignals, err := b.signals.GenerateSignals(trainFrame, testFrame, threshold)
	if err != nil {
		return fail(StageSignals, err)
	}
	withReturns, err := returns.ComputeReturns(withSignals)
	if err != nil {
		return fail(StageReturns, err)
	}
	summary, err := returns.PortfolioSummary(withReturns)
	if err != nil {
		return fail(StageSummary, err)
	}
	report, err := returns.Report(withReturns)
	if err != nil {
		return fail(StageSummary, err)
	}

	final, _ := report.FinalEquity.Float64()
	b.tracer.RecordPairResult(span, telemetry.PairMetrics{
		Sigma:       withReturns.Sigma,
		Mean:        summary.Mean,
		StdDev:      summary.StdDev,
		FinalEquity: final,
		Entries:     report.Entries,
	})

	return &models.PairResult{
		Pair:    pair,
		Params:  withReturns.Params,
		Sigma:   withReturns.Sigma,
		Summary: summary,
		Report:  report,
		Frame:   withReturns,
	}, nil
}

func (b *Backtester) workerCount(params models.BacktestParams) int {
	if params.Workers > 0 {
		return params.Workers
	}
	if b.workers > 0 {
		return b.workers
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// RankingKey fingerprints the inputs that determine a ranking.
func RankingKey(train *models.PriceTable, distanceName string, top int) string {
	h := sha256.New()
	buf := make([]byte, 8)
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}

	h.Write([]byte(distanceName))
	write(uint64(top))
	for _, ts := range train.Timestamps() {
		write(uint64(ts.UnixNano()))
	}
	for i, asset := range train.Assets() {
		h.Write([]byte(asset))
		h.Write([]byte{0})
		for _, v := range train.ColumnAt(i) {
			write(math.Float64bits(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
