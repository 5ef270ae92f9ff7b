package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quforge/qubet/internal/blob/s3"
	"github.com/quforge/qubet/internal/cache/redis"
	"github.com/quforge/qubet/internal/config"
	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/platform/qubic"
	"github.com/quforge/qubet/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the engine needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	AccountStore     domain.AccountStore
	TransactionStore domain.TransactionStore
	LedgerStore      domain.LedgerStore
	RoundStore       domain.RoundStore
	MarketStore      domain.MarketStore
	HouseStore       domain.HouseStore
	StatusStore      domain.StatusStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter

	// Chain RPC, breaker-guarded
	Chain   *qubic.GuardedClient
	Breaker *qubic.Breaker

	// Cold storage (nil unless archival is enabled)
	Archiver *s3blob.Archiver
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
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.TransactionStore = postgres.NewTransactionStore(pool)
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.RoundStore = postgres.NewRoundStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.HouseStore = postgres.NewHouseStore(pool)
	deps.StatusStore = postgres.NewStatusStore(pool)

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Chain RPC with circuit breaker ---
	rpc := qubic.NewClient(cfg.Qubic.BaseURL, cfg.Qubic.RequestTimeout.Duration)
	deps.Breaker = qubic.NewBreaker("qubic-rpc", uint32(cfg.Qubic.BreakerFailures), cfg.Qubic.BreakerCooldown.Duration)
	deps.Chain = qubic.NewGuardedClient(rpc, deps.Breaker, cfg.Qubic.RequestTimeout.Duration)

	// --- S3 cold storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.RoundStore,
			deps.MarketStore,
			deps.StatusStore,
			retention,
			logger,
		)
	}

	return deps, cleanup, nil
}
