package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLIPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLIPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "FLIPBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "FLIPBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "FLIPBOT_EXCHANGE_API_KEY")
	setBool(&cfg.Exchange.Simulate, "FLIPBOT_EXCHANGE_SIMULATE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLIPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLIPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLIPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLIPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLIPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLIPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLIPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLIPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLIPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLIPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLIPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLIPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLIPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLIPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLIPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLIPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLIPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLIPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLIPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLIPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLIPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLIPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLIPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FLIPBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "FLIPBOT_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "FLIPBOT_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.BatchSize, "FLIPBOT_S3_BATCH_SIZE")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "FLIPBOT_SCANNER_INTERVAL")
	setInt(&cfg.Scanner.MarketLimit, "FLIPBOT_SCANNER_MARKET_LIMIT")
	setBool(&cfg.Scanner.AutoExecute, "FLIPBOT_SCANNER_AUTO_EXECUTE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "FLIPBOT_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.FetchTimeout, "FLIPBOT_MONITOR_FETCH_TIMEOUT")
	setBool(&cfg.Monitor.UseWebsocket, "FLIPBOT_MONITOR_USE_WEBSOCKET")
	setDuration(&cfg.Monitor.PollInterval, "FLIPBOT_MONITOR_POLL_INTERVAL")

	// ── Risk ──
	setInt(&cfg.Risk.MaxPositions, "FLIPBOT_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxPositionSizeEUR, "FLIPBOT_RISK_MAX_POSITION_SIZE_EUR")
	setFloat64(&cfg.Risk.CapitalEUR, "FLIPBOT_RISK_CAPITAL_EUR")
	setFloat64(&cfg.Risk.MaxTotalExposureFraction, "FLIPBOT_RISK_MAX_TOTAL_EXPOSURE_FRACTION")
	setFloat64(&cfg.Risk.StopLossPercent, "FLIPBOT_RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.TakeProfitPercent, "FLIPBOT_RISK_TAKE_PROFIT_PERCENT")
	setDuration(&cfg.Risk.Cooldown, "FLIPBOT_RISK_COOLDOWN")
	setFloat64(&cfg.Risk.MinHVSForHold, "FLIPBOT_RISK_MIN_HVS_FOR_HOLD")
	setFloat64(&cfg.Risk.MinFlipEV, "FLIPBOT_RISK_MIN_FLIP_EV")
	setFloat64(&cfg.Risk.DailyOpportunityCost, "FLIPBOT_RISK_DAILY_OPPORTUNITY_COST")

	// ── Filters ──
	setFloat64(&cfg.Filters.MinLiquidityUSD, "FLIPBOT_FILTERS_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Filters.MinSpread, "FLIPBOT_FILTERS_MIN_SPREAD")
	setFloat64(&cfg.Filters.MaxSpread, "FLIPBOT_FILTERS_MAX_SPREAD")
	setFloat64(&cfg.Filters.MinDays, "FLIPBOT_FILTERS_MIN_DAYS")
	setFloat64(&cfg.Filters.MaxDays, "FLIPBOT_FILTERS_MAX_DAYS")
	setStringSlice(&cfg.Filters.ExcludeCategories, "FLIPBOT_FILTERS_EXCLUDE_CATEGORIES")
	setStringSlice(&cfg.Filters.PreferCategories, "FLIPBOT_FILTERS_PREFER_CATEGORIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLIPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLIPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLIPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLIPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLIPBOT_MODE")
	setStr(&cfg.LogLevel, "FLIPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
