package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/okxsim/internal/blob/s3"
	"github.com/alanyoungcy/okxsim/internal/cache/redis"
	"github.com/alanyoungcy/okxsim/internal/config"
	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/notify"
	"github.com/alanyoungcy/okxsim/internal/sim"
	"github.com/alanyoungcy/okxsim/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores (nil when Postgres is disabled).
	SimulationStore domain.SimulationStore
	GapStore        domain.GapStore

	// Redis-backed infrastructure.
	Mirror      domain.BookMirror
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil when S3 is disabled).
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications.
	Notifier *notify.Notifier
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

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
		deps.SimulationStore = postgres.NewSimulationStore(pool)
		deps.GapStore = postgres.NewGapStore(pool)
	}

	// --- Redis ---
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

	deps.Mirror = redis.NewBookMirror(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// Archiver needs both object storage and the Postgres stores.
		if deps.SimulationStore != nil && deps.GapStore != nil {
			deps.Archiver = s3blob.NewFeedArchiver(
				deps.BlobWriter,
				deps.SimulationStore,
				deps.GapStore,
				logger,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSimulator translates the validated config sections into the cost-model
// configuration. Config.Validate has already checked that every rate and the
// impact coefficient parse as decimals.
func buildSimulator(cfg *config.Config, logger *slog.Logger) *sim.Simulator {
	fees := make(map[domain.FeeTier]domain.FeeRate, len(cfg.Fees))
	for tier, rate := range cfg.Fees {
		maker, _ := decimal.NewFromString(rate.MakerBps)
		taker, _ := decimal.NewFromString(rate.TakerBps)
		fees[domain.FeeTier(tier)] = domain.FeeRate{MakerBps: maker, TakerBps: taker}
	}
	coeff, _ := decimal.NewFromString(cfg.Simulator.ImpactCoefficientBps)

	return sim.New(sim.Config{
		ImpactModel:          sim.ImpactModel(cfg.Simulator.ImpactModel),
		ImpactCoefficientBps: coeff,
		Fees:                 fees,
		DefaultTier:          domain.FeeTier(cfg.Simulator.DefaultFeeTier),
	}, logger)
}
