package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantfold/flipbot/internal/blob/s3"
	"github.com/quantfold/flipbot/internal/cache/memory"
	"github.com/quantfold/flipbot/internal/cache/redis"
	"github.com/quantfold/flipbot/internal/config"
	"github.com/quantfold/flipbot/internal/domain"
	"github.com/quantfold/flipbot/internal/notify"
	"github.com/quantfold/flipbot/internal/platform/predx"
	"github.com/quantfold/flipbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores (nil in scan mode, which runs without persistence).
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	AuditStore    domain.AuditStore
	ParamsStore   domain.ParamsStore

	// Caches and locking. Redis-backed when redis.enabled, in-memory
	// otherwise.
	PriceCache  domain.PriceCache
	LockManager domain.LockManager

	// Exchange access.
	Source  domain.MarketDataSource
	Gateway domain.OrderGateway

	// Runtime parameters. Seeded from config, superseded by the latest
	// persisted version when the params store is wired.
	Params *domain.AtomicParams

	// Notifications.
	Notifier *notify.Notifier

	// Archiver is nil unless S3 and Postgres are both wired.
	Archiver *s3blob.Archiver
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "monitor", "status":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.ParamsStore = postgres.NewParamsStore(pool)
	}

	// --- Price cache and admission lock ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.LockManager = memory.NewLockManager()
	}

	// --- Exchange ---
	client := predx.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey)
	deps.Source = predx.NewSource(client)
	if cfg.Exchange.Simulate {
		deps.Gateway = predx.NewSimulatedGateway(logger)
	} else {
		deps.Gateway = predx.NewGateway(client, logger)
	}

	// --- Runtime parameters ---
	params, err := loadParams(ctx, cfg, deps.ParamsStore, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Params = params

	// --- S3 trade archive ---
	if cfg.S3.Enabled && deps.TradeStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.TradeStore,
			s3Client,
			time.Duration(cfg.S3.RetentionDays)*24*time.Hour,
			cfg.S3.ArchiveInterval.Duration,
			cfg.S3.BatchSize,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			"", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// loadParams seeds the runtime parameter provider. The latest persisted
// version wins over the config file; when the store is empty the config
// version is persisted as version one so later administrative updates have a
// baseline to build on.
func loadParams(ctx context.Context, cfg *config.Config, store domain.ParamsStore, logger *slog.Logger) (*domain.AtomicParams, error) {
	fromConfig := cfg.RiskParameters()

	if store == nil {
		return domain.NewAtomicParams(fromConfig), nil
	}

	latest, err := store.Latest(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := store.Save(ctx, fromConfig); err != nil {
			return nil, fmt.Errorf("wire: seed risk params: %w", err)
		}
		return domain.NewAtomicParams(fromConfig), nil
	case err != nil:
		return nil, fmt.Errorf("wire: load risk params: %w", err)
	default:
		logger.InfoContext(ctx, "loaded persisted risk parameters",
			slog.Int64("version", latest.Version),
			slog.Time("updated_at", latest.UpdatedAt),
		)
		return domain.NewAtomicParams(latest), nil
	}
}
