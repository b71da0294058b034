package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/distance-pairs/internal/dataset"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Backtest    BacktestConfig  `mapstructure:"backtest"`
	Export      ExportConfig    `mapstructure:"export"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Security    SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port         int   `mapstructure:"port"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BacktestConfig holds default run parameters. SplitAt, when set, overrides TrainRatio.
type BacktestConfig struct {
	Top         int     `mapstructure:"top"`
	Threshold   float64 `mapstructure:"threshold"`
	TrainRatio  float64 `mapstructure:"train_ratio"`
	SplitAt     string  `mapstructure:"split_at"`
	Distance    string  `mapstructure:"distance"`
	Compounding string  `mapstructure:"compounding"`
	Workers     int     `mapstructure:"workers"`
}

type ExportConfig struct {
	Dir       string `mapstructure:"dir"`
	SMAPeriod int    `mapstructure:"sma_period"`
}

type CacheConfig struct {
	RankingTTL string `mapstructure:"ranking_ttl"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	LogsEnabled bool    `mapstructure:"logs_enabled"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
	// AdminAPIKey guards the cache maintenance endpoints. Empty disables them.
	AdminAPIKey string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
}

// Load reads config.yaml from ./configs or the working directory, then
// applies environment overrides.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the default locations.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("security.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}
	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that cannot be corrected by defaults.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Environment != "test" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}
	if c.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Security.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}
	if c.Cache.RankingTTL != "" {
		if _, err := time.ParseDuration(c.Cache.RankingTTL); err != nil {
			return fmt.Errorf("invalid ranking cache TTL: %w", err)
		}
	}
	if c.Export.SMAPeriod < 1 {
		return fmt.Errorf("export.sma_period must be at least 1, got %d", c.Export.SMAPeriod)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	if _, err := c.Backtest.Params(); err != nil {
		return err
	}
	return nil
}

// Params converts the configured defaults into run parameters.
func (b BacktestConfig) Params() (models.BacktestParams, error) {
	params := models.BacktestParams{
		Top:         b.Top,
		Threshold:   b.Threshold,
		TrainRatio:  b.TrainRatio,
		Distance:    b.Distance,
		Compounding: models.Compounding(b.Compounding),
		Workers:     b.Workers,
	}
	if b.Top <= 0 {
		return params, fmt.Errorf("backtest.top must be positive, got %d", b.Top)
	}
	if !(b.Threshold > 0) {
		return params, fmt.Errorf("backtest.threshold must be positive, got %v", b.Threshold)
	}
	if b.Workers < 0 {
		return params, fmt.Errorf("backtest.workers must not be negative, got %d", b.Workers)
	}
	switch params.Compounding {
	case "", models.CompoundingSignAware, models.CompoundingStandard:
	default:
		return params, fmt.Errorf("unknown compounding mode %q", b.Compounding)
	}
	if b.SplitAt != "" {
		at, err := ParseTime(b.SplitAt)
		if err != nil {
			return params, fmt.Errorf("invalid backtest.split_at: %w", err)
		}
		params.SplitAt = &at
		return params, nil
	}
	if !(b.TrainRatio > 0 && b.TrainRatio < 1) {
		return params, fmt.Errorf("backtest.train_ratio must be in (0, 1), got %v", b.TrainRatio)
	}
	return params, nil
}

// ParseTime accepts RFC 3339 timestamps and plain dates.
func ParseTime(value string) (time.Time, error) {
	return dataset.ParseTimestamp(value)
}

// TTL returns the parsed ranking cache TTL, or zero for no expiry.
func (c CacheConfig) TTL() time.Duration {
	d, _ := time.ParseDuration(c.RankingTTL)
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.max_body_bytes", 32<<20)

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "distance_pairs")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("backtest.top", 5)
	viper.SetDefault("backtest.threshold", 2.0)
	viper.SetDefault("backtest.train_ratio", 0.5)
	viper.SetDefault("backtest.split_at", "")
	viper.SetDefault("backtest.distance", "sum_squared")
	viper.SetDefault("backtest.compounding", string(models.CompoundingSignAware))
	viper.SetDefault("backtest.workers", 0)

	viper.SetDefault("export.dir", "./reports")
	viper.SetDefault("export.sma_period", 20)

	viper.SetDefault("cache.ranking_ttl", "1h")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.sample_rate", 1.0)
	viper.SetDefault("telemetry.logs_enabled", false)

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.admin_api_key", "")
}
