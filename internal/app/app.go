// Package app assembles the backtest runtime from configuration. Both
// binaries use it so the server and the CLI share storage, caching,
// notification and telemetry wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/cache"
	"github.com/irfndi/distance-pairs/internal/config"
	"github.com/irfndi/distance-pairs/internal/database"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/notification"
	"github.com/irfndi/distance-pairs/internal/services"
	"github.com/irfndi/distance-pairs/internal/telemetry"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ErrDatabaseDisabled is returned by operations that need Postgres when it is not configured.
var ErrDatabaseDisabled = errors.New("database is not enabled")

// RunStore saves and reads completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.BacktestRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.BacktestRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.BacktestRun, error)
	GetEquity(ctx context.Context, id uuid.UUID, rank int) ([]database.EquityPoint, error)
}

// App holds the long-lived dependencies. Optional members are nil when disabled.
type App struct {
	Config *config.Config
	Logger *logging.StandardLogger

	Telemetry   *telemetry.Provider
	LogProvider *sdklog.LoggerProvider

	DB           *database.PostgresDB
	Pool         database.DatabasePool
	Redis        *database.RedisClient
	RankingCache *cache.RedisRankingCache
	Runs         RunStore
	Prices       *database.PriceRepository
	Notifier     *notification.TelegramNotifier

	closers []func(context.Context) error
}

// New connects every enabled dependency. A database that is enabled but
// unreachable is fatal; an unreachable Redis only disables ranking caching.
func New(ctx context.Context, cfg *config.Config, logger *logging.StandardLogger) (*App, error) {
	if logger == nil {
		logger = logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.initTelemetry(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initDatabase(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.initRedis(ctx)
	a.initNotifier()
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	tc := a.Config.Telemetry
	provider, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Enabled:     tc.Enabled,
		Exporter:    tc.Exporter,
		Endpoint:    tc.Endpoint,
		Environment: a.Config.Environment,
		Release:     telemetry.ServiceVersion,
		SampleRate:  tc.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.Telemetry = provider
	a.closers = append(a.closers, provider.Shutdown)

	if tc.Enabled && tc.LogsEnabled {
		logProvider, err := logging.NewOTLPProvider(ctx, logging.OTLPConfig{
			Enabled:        true,
			Endpoint:       tc.Endpoint,
			ServiceName:    telemetry.ServiceName,
			ServiceVersion: telemetry.ServiceVersion,
			Environment:    a.Config.Environment,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize log export: %w", err)
		}
		a.LogProvider = logProvider
		a.Logger.AddHook(logging.NewOTLPHook(logProvider, telemetry.ServiceName))
		a.closers = append(a.closers, logProvider.Shutdown)
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	if !a.Config.Database.Enabled {
		a.Runs = database.NewMemoryRunStore(0)
		a.Logger.WithComponent("app").Info("Database disabled, keeping runs in memory")
		return nil
	}

	db, err := database.NewPostgresConnection(ctx, a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func(context.Context) error {
		db.Close()
		return nil
	})

	a.Pool = database.NewTracedPool(db.Pool, nil, a.Logger)
	if err := database.Migrate(ctx, a.Pool); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.Runs = database.NewBacktestRepository(a.Pool)
	a.Prices = database.NewPriceRepository(a.Pool)
	return nil
}

func (a *App) initRedis(ctx context.Context) {
	if !a.Config.Redis.Enabled {
		return
	}
	client, err := database.NewRedisConnection(ctx, a.Config.Redis)
	if err != nil {
		a.Logger.WithError(err).Error("Failed to connect to Redis - continuing without ranking cache")
		return
	}
	a.Redis = client
	a.closers = append(a.closers, func(context.Context) error {
		client.Close()
		return nil
	})
	a.RankingCache = cache.NewRedisRankingCache(client.Client, a.Config.Cache.TTL(), a.Logger)
}

func (a *App) initNotifier() {
	tg := a.Config.Telegram
	if tg.BotToken == "" {
		return
	}
	b, err := notification.NewTelegramBot(tg.BotToken)
	if err != nil {
		a.Logger.WithError(err).Error("Failed to create Telegram bot - run notifications disabled")
		return
	}
	a.Notifier = notification.NewTelegramNotifier(b, tg.ChatID,
		notification.WithLogger(a.Logger),
		notification.WithTracer(telemetry.NewBusinessTracer(nil)),
	)
}

// BacktesterOptions selects the side effects of each run.
type BacktesterOptions struct {
	Persist bool
	Notify  bool
}

// Backtester builds a backtester using the ranking cache when available.
func (a *App) Backtester(opts BacktesterOptions) *services.Backtester {
	bopts := []services.BacktesterOption{
		services.WithLogger(a.Logger),
		services.WithDefaultWorkers(a.Config.Backtest.Workers),
	}
	if a.RankingCache != nil {
		bopts = append(bopts, services.WithRankingCache(a.RankingCache))
	}
	if opts.Persist && a.Runs != nil {
		bopts = append(bopts, services.WithRunRepository(a.Runs))
	}
	if opts.Notify && a.Notifier != nil {
		bopts = append(bopts, services.WithNotifier(a.Notifier))
	}
	return services.NewBacktester(bopts...)
}

// LoadStoredTable loads prices from Postgres.
func (a *App) LoadStoredTable(ctx context.Context, assets []string, from, to time.Time) (*models.PriceTable, error) {
	if a.Prices == nil {
		return nil, ErrDatabaseDisabled
	}
	return a.Prices.LoadTable(ctx, assets, from, to)
}

// ImportTable stores table in the asset price history.
func (a *App) ImportTable(ctx context.Context, table *models.PriceTable) (int64, error) {
	if a.Prices == nil {
		return 0, ErrDatabaseDisabled
	}
	return a.Prices.ImportTable(ctx, table)
}

// Close releases dependencies in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	if a.RankingCache != nil {
		a.RankingCache.LogStats()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.WithError(err).Warn("Shutdown step failed")
		}
	}
	a.closers = nil
}
