// Package config defines the bot configuration and validation helpers.
package config

import (
	"fmt"
	"time"

	"github.com/quantfold/flipbot/internal/domain"
)

// duration wraps time.Duration so TOML files can say "30s" or "6h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by FLIPBOT_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Risk     RiskConfig     `toml:"risk"`
	Filters  FiltersConfig  `toml:"filters"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ExchangeConfig holds PredX API endpoints and execution mode.
type ExchangeConfig struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
	APIKey  string `toml:"api_key"`
	// Simulate routes orders through the simulated gateway. Live trading
	// requires explicitly setting it to false.
	Simulate bool `toml:"simulate"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, the price
// cache and admission lock run in process memory.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the trade archive target. Disabled by default.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
	BatchSize       int      `toml:"batch_size"`
}

// ScannerConfig controls the market scan loop.
type ScannerConfig struct {
	Interval    duration `toml:"interval"`
	MarketLimit int      `toml:"market_limit"`
	// AutoExecute opens a position on the best opportunity of each scan.
	AutoExecute bool `toml:"auto_execute"`
}

// MonitorConfig controls the position monitor loop and price feed.
type MonitorConfig struct {
	Interval     duration `toml:"interval"`
	FetchTimeout duration `toml:"fetch_timeout"`
	UseWebsocket bool     `toml:"use_websocket"`
	PollInterval duration `toml:"poll_interval"`
}

// RiskConfig holds the admission limits and exit triggers.
type RiskConfig struct {
	MaxPositions             int      `toml:"max_positions"`
	MaxPositionSizeEUR       float64  `toml:"max_position_size_eur"`
	CapitalEUR               float64  `toml:"capital_eur"`
	MaxTotalExposureFraction float64  `toml:"max_total_exposure_fraction"`
	StopLossPercent          float64  `toml:"stop_loss_percent"`
	TakeProfitPercent        float64  `toml:"take_profit_percent"`
	Cooldown                 duration `toml:"cooldown"`
	MinHVSForHold            float64  `toml:"min_hvs_for_hold"`
	MinFlipEV                float64  `toml:"min_flip_ev"`
	DailyOpportunityCost     float64  `toml:"daily_opportunity_cost"`
}

// FiltersConfig holds the scanner eligibility criteria.
type FiltersConfig struct {
	MinLiquidityUSD   float64  `toml:"min_liquidity_usd"`
	MinSpread         float64  `toml:"min_spread"`
	MaxSpread         float64  `toml:"max_spread"`
	MinDays           float64  `toml:"min_days"`
	MaxDays           float64  `toml:"max_days"`
	ExcludeCategories []string `toml:"exclude_categories"`
	PreferCategories  []string `toml:"prefer_categories"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration. Simulation mode is the
// default; live order routing is always an explicit decision.
func Defaults() Config {
	return Config{
		Mode:     "scan",
		LogLevel: "info",
		Exchange: ExchangeConfig{
			Simulate: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flipbot",
			User:          "flipbot",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		S3: S3Config{
			RetentionDays:   30,
			ArchiveInterval: duration{24 * time.Hour},
			BatchSize:       500,
		},
		Scanner: ScannerConfig{
			Interval:    duration{6 * time.Hour},
			MarketLimit: 200,
		},
		Monitor: MonitorConfig{
			Interval:     duration{30 * time.Second},
			FetchTimeout: duration{5 * time.Second},
			PollInterval: duration{15 * time.Second},
		},
		Risk: RiskConfig{
			MaxPositions:             5,
			MaxPositionSizeEUR:       75,
			CapitalEUR:               1_000,
			MaxTotalExposureFraction: 0.5,
			StopLossPercent:          0.15,
			TakeProfitPercent:        0.10,
			Cooldown:                 duration{6 * time.Hour},
			MinHVSForHold:            5,
			MinFlipEV:                5,
			DailyOpportunityCost:     0.001,
		},
		Filters: FiltersConfig{
			MinLiquidityUSD: 5_000,
			MinSpread:       0.02,
			MaxSpread:       0.10,
			MinDays:         3,
			MaxDays:         90,
		},
	}
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c Config) Validate() error {
	switch c.Mode {
	case "scan", "trade", "monitor", "status":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}

	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("config: risk.max_positions must be positive")
	}
	if c.Risk.MaxPositionSizeEUR <= 0 {
		return fmt.Errorf("config: risk.max_position_size_eur must be positive")
	}
	if c.Risk.CapitalEUR <= 0 {
		return fmt.Errorf("config: risk.capital_eur must be positive")
	}
	if c.Risk.MaxTotalExposureFraction <= 0 || c.Risk.MaxTotalExposureFraction > 1 {
		return fmt.Errorf("config: risk.max_total_exposure_fraction must be in (0, 1]")
	}
	if c.Risk.StopLossPercent < 0 || c.Risk.StopLossPercent >= 1 {
		return fmt.Errorf("config: risk.stop_loss_percent must be in [0, 1)")
	}
	if c.Risk.TakeProfitPercent < 0 || c.Risk.TakeProfitPercent >= 1 {
		return fmt.Errorf("config: risk.take_profit_percent must be in [0, 1)")
	}
	if c.Filters.MinSpread > c.Filters.MaxSpread {
		return fmt.Errorf("config: filters.min_spread exceeds filters.max_spread")
	}
	if c.Filters.MinDays > c.Filters.MaxDays {
		return fmt.Errorf("config: filters.min_days exceeds filters.max_days")
	}
	if c.Scanner.MarketLimit <= 0 {
		return fmt.Errorf("config: scanner.market_limit must be positive")
	}
	if c.Monitor.FetchTimeout.Duration <= 0 {
		return fmt.Errorf("config: monitor.fetch_timeout must be positive")
	}
	if c.Mode != "scan" && !c.Exchange.Simulate && c.Exchange.APIKey == "" {
		return fmt.Errorf("config: exchange.api_key is required for live trading")
	}
	return nil
}

// RiskParameters assembles the domain parameter set from the configured risk
// and filter sections.
func (c Config) RiskParameters() domain.RiskParameters {
	return domain.RiskParameters{
		MaxPositions:             c.Risk.MaxPositions,
		MaxPositionSizeEUR:       c.Risk.MaxPositionSizeEUR,
		CapitalEUR:               c.Risk.CapitalEUR,
		MaxTotalExposureFraction: c.Risk.MaxTotalExposureFraction,
		StopLossPercent:          c.Risk.StopLossPercent,
		TakeProfitPercent:        c.Risk.TakeProfitPercent,
		Cooldown:                 c.Risk.Cooldown.Duration,
		Thresholds: domain.StrategyThresholds{
			MinHVSForHold:        c.Risk.MinHVSForHold,
			MinFlipEV:            c.Risk.MinFlipEV,
			DailyOpportunityCost: c.Risk.DailyOpportunityCost,
		},
		Filters: domain.MarketFilters{
			MinLiquidityUSD:   c.Filters.MinLiquidityUSD,
			MinSpread:         c.Filters.MinSpread,
			MaxSpread:         c.Filters.MaxSpread,
			MinDays:           c.Filters.MinDays,
			MaxDays:           c.Filters.MaxDays,
			ExcludeCategories: c.Filters.ExcludeCategories,
			PreferCategories:  c.Filters.PreferCategories,
		},
		UpdatedAt: time.Now().UTC(),
	}
}
