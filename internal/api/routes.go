// Package api wires the HTTP routes of the backtest service.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/api/handlers"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/middleware"
	"github.com/irfndi/distance-pairs/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "distance-pairs"
	Version     = "1.0.0"
)

// Dependencies holds everything the routes need. Optional members may be nil:
// Prices disables stored-price sources, Reports disables workbook responses,
// RankingCache disables the admin cache endpoints.
type Dependencies struct {
	Backtester   handlers.BacktestService
	Runs         handlers.RunStore
	Prices       handlers.PriceSource
	Reports      handlers.ReportWriter
	RankingCache handlers.RankingCacheAdmin
	HealthChecks map[string]handlers.HealthChecker
	Defaults     models.BacktestParams

	Auth           *middleware.AuthMiddleware
	Admin          *middleware.AdminMiddleware
	Logger         *logging.StandardLogger
	TracerProvider trace.TracerProvider
	MaxBodyBytes   int64
}

// ScopeRun is the token scope required to start backtests.
const ScopeRun = "backtest:run"

// SetupRoutes registers middleware and routes on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewStandardLoggerFrom(nil)
	}

	var otelOpts []otelgin.Option
	if deps.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(deps.TracerProvider))
	}
	router.Use(otelgin.Middleware(ServiceName, otelOpts...))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.BodyLimit(deps.MaxBodyBytes))

	healthHandler := handlers.NewHealthHandler(deps.HealthChecks, Version)
	router.GET("/health", healthHandler.HealthCheck)

	backtestHandler := handlers.NewBacktestHandler(deps.Backtester, deps.Runs, deps.Prices, deps.Reports, deps.Defaults, logger)

	v1 := router.Group("/api/v1")
	var read, run []gin.HandlerFunc
	if deps.Auth != nil && deps.Auth.Enabled() {
		read = []gin.HandlerFunc{deps.Auth.RequireAuth("")}
		run = []gin.HandlerFunc{deps.Auth.RequireAuth(ScopeRun)}
	}
	{
		v1.GET("/distances", chain(read, backtestHandler.ListDistances)...)
		v1.POST("/pairs/rank", chain(read, backtestHandler.RankPairs)...)

		backtests := v1.Group("/backtests")
		{
			backtests.POST("", chain(run, backtestHandler.CreateBacktest)...)
			backtests.GET("", chain(read, backtestHandler.ListBacktests)...)
			backtests.GET("/:id", chain(read, backtestHandler.GetBacktest)...)
			backtests.GET("/:id/pairs/:rank/equity", chain(read, backtestHandler.GetEquity)...)
		}
	}

	if deps.Admin != nil && deps.RankingCache != nil {
		cacheHandler := handlers.NewCacheHandler(deps.RankingCache)
		admin := router.Group("/admin", deps.Admin.RequireAdminAuth())
		{
			admin.GET("/cache/stats", cacheHandler.GetCacheStats)
			admin.DELETE("/cache/rankings", cacheHandler.ClearRankings)
		}
	}
}

func chain(mw []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	return append(append(out, mw...), handler)
}
