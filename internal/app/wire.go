package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/amadeodlp/cryptara/internal/blob/s3"
	"github.com/amadeodlp/cryptara/internal/cache/redis"
	"github.com/amadeodlp/cryptara/internal/config"
	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/notify"
	"github.com/amadeodlp/cryptara/internal/platform/chain"
	"github.com/amadeodlp/cryptara/internal/platform/cmc"
	"github.com/amadeodlp/cryptara/internal/server/handler"
	"github.com/amadeodlp/cryptara/internal/service"
	"github.com/amadeodlp/cryptara/internal/store/memory"
	"github.com/amadeodlp/cryptara/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Ledger        domain.Ledger
	Balances      domain.BalanceStore
	Rates         domain.RateTable
	Positions     domain.PositionStore
	Transactions  domain.TransactionLog
	Notifications domain.NotificationStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	PriceCache  domain.PriceCache

	// External reads; nil when not configured.
	PriceOracle domain.PriceOracle
	ChainReader domain.ChainReader

	// Blob storage; nil outside archive modes.
	Archiver domain.Archiver

	// Notifications
	Dispatcher *notify.Dispatcher

	// Health probes keyed by dependency name.
	HealthChecks map[string]handler.HealthCheck
}

// needsS3 returns true for modes that archive to object storage.
func needsS3(mode string) bool {
	return mode == "archive" || mode == "full"
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}
	mode := strings.ToLower(cfg.Mode)

	// --- Ledger storage ---
	switch strings.ToLower(cfg.Storage) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedger(pool)
		deps.Balances = postgres.NewBalanceStore(pool)
		deps.Rates = postgres.NewRateStore(pool)
		deps.Positions = postgres.NewStakingPositionStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.Notifications = postgres.NewNotificationStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping

	case "memory":
		rates, err := cfg.Staking.RateEntries()
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		store := memory.New()
		store.SetRates(rates)
		deps.Ledger = store
		deps.Balances = store.Balances()
		deps.Rates = store.Rates()
		deps.Positions = store.Positions()
		deps.Transactions = store.Transactions()
		deps.Notifications = store.Notifications()
		logger.WarnContext(ctx, "wire: using in-memory storage; ledger state is lost on exit")

	default:
		return fail(fmt.Errorf("wire: unsupported storage %q", cfg.Storage))
	}

	// A duplicate active rate makes Lookup ambiguous; refuse to start.
	rates, err := deps.Rates.List(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: load rate table: %w", err))
	}
	if err := service.ValidateRates(rates); err != nil {
		return fail(fmt.Errorf("wire: rate table: %w", err))
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "wire: redis not configured; locks, events and rate limits are per-process")
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.PriceCache = memory.NewPriceCache()
	}

	// --- External reads ---
	if cfg.Prices.APIKey != "" {
		deps.PriceOracle = cmc.NewClient(cfg.Prices.BaseURL, cfg.Prices.APIKey, cfg.Prices.Timeout.Duration)
	}
	if cfg.Chain.RPCURL != "" {
		reader, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: chain rpc: %w", err))
		}
		closers = append(closers, reader.Close)
		deps.ChainReader = reader
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Transactions,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Dispatcher = notify.NewDispatcher(
		deps.Notifications,
		deps.SignalBus,
		senders,
		cfg.Notify.Events,
		cfg.Notify.QueueSize,
		logger,
	)

	return deps, cleanup, nil
}
