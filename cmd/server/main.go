package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/api"
	"github.com/irfndi/distance-pairs/internal/api/handlers"
	"github.com/irfndi/distance-pairs/internal/app"
	"github.com/irfndi/distance-pairs/internal/config"
	"github.com/irfndi/distance-pairs/internal/exporter"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

type serverFlags struct {
	configPath  string
	issueToken  string
	tokenScopes []string
	tokenTTL    time.Duration
}

func newFlagSet() (*pflag.FlagSet, *serverFlags) {
	f := &serverFlags{}
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to config file (default: ./configs/config.yaml or ./config.yaml)")
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("log-level", "info", "log level")
	fs.StringVar(&f.issueToken, "issue-token", "", "print a signed API token for this subject and exit")
	fs.StringSliceVar(&f.tokenScopes, "token-scopes", []string{api.ScopeRun}, "scopes granted to the issued token")
	fs.DurationVar(&f.tokenTTL, "token-ttl", 0, "issued token lifetime (default: security.jwt_expiry)")
	return fs, f
}

// loadConfig parses args, loads .env and binds flags over the config file and environment.
func loadConfig(args []string) (*config.Config, *serverFlags, error) {
	fs, flags := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	for key, flag := range map[string]string{"server.port": "port", "log_level": "log-level"} {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, nil, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, flags, nil
}

func run(args []string, stdout io.Writer) error {
	cfg, flags, err := loadConfig(args)
	if err != nil {
		return err
	}

	if flags.issueToken != "" {
		return issueToken(stdout, cfg, flags)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		application.Close(shutdownCtx)
	}()

	router, err := newRouter(application)
	if err != nil {
		return err
	}
	srv := newHTTPServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.LogStartup(api.ServiceName, api.Version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.LogShutdown(api.ServiceName, "signal received")
	}

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.WithService(api.ServiceName).Info("Server exited gracefully")
	return nil
}

func issueToken(w io.Writer, cfg *config.Config, flags *serverFlags) error {
	ttl := flags.tokenTTL
	if ttl == 0 {
		parsed, err := time.ParseDuration(cfg.Security.JWTExpiry)
		if err != nil {
			return fmt.Errorf("invalid security.jwt_expiry: %w", err)
		}
		ttl = parsed
	}
	token, err := middleware.NewAuthMiddleware(cfg.Security.JWTSecret).GenerateToken(flags.issueToken, flags.tokenScopes, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func newRouter(a *app.App) (*gin.Engine, error) {
	cfg := a.Config
	defaults, err := cfg.Backtest.Params()
	if err != nil {
		return nil, err
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	deps := api.Dependencies{
		Backtester:   a.Backtester(app.BacktesterOptions{Persist: true, Notify: true}),
		Runs:         a.Runs,
		Reports:      exporter.NewWorkbookExporter(exporter.WithSMAPeriod(cfg.Export.SMAPeriod)),
		HealthChecks: map[string]handlers.HealthChecker{"database": nil, "redis": nil},
		Defaults:     defaults,
		Auth:         middleware.NewAuthMiddleware(cfg.Security.JWTSecret),
		Logger:       a.Logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if a.Prices != nil {
		deps.Prices = a.Prices
	}
	if a.DB != nil {
		deps.HealthChecks["database"] = a.DB
	}
	if a.Redis != nil {
		deps.HealthChecks["redis"] = a.Redis
	}
	if a.RankingCache != nil {
		deps.RankingCache = a.RankingCache
	}
	if cfg.Security.AdminAPIKey != "" {
		deps.Admin = middleware.NewAdminMiddleware(cfg.Security.AdminAPIKey)
	}

	api.SetupRoutes(router, deps)
	return router, nil
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
