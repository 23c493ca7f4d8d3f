package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/ratecore/internal/blob/s3"
	"github.com/alanyoungcy/ratecore/internal/cache/redis"
	"github.com/alanyoungcy/ratecore/internal/config"
	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/server/handler"
	"github.com/alanyoungcy/ratecore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	IndexStore     domain.AssetIndexStore
	IndicatorStore domain.SoapIndicatorStore
	StateStore     domain.StateStore
	AuditStore     domain.AuditStore

	// Caches and coordination; nil in archive mode.
	IndexCache  domain.IndexCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage; nil unless snapshots are enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// HealthChecks probes each wired backend by name.
	HealthChecks map[string]handler.HealthCheck
}

// needsRedis reports whether mode serves requests and therefore needs the
// cache, locks and bus.
func needsRedis(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
}

// needsS3 reports whether snapshots are written or restored under cfg.
func needsS3(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "archive", "full":
		return true
	}
	return cfg.Archive.Enabled
}

// backends selects the optional backends Wire connects to.
type backends struct {
	redis bool
	s3    bool
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	return wireWith(ctx, cfg, logger, backends{
		redis: needsRedis(strings.ToLower(cfg.Mode)),
		s3:    needsS3(cfg),
	})
}

func wireWith(ctx context.Context, cfg *config.Config, logger *slog.Logger, want backends) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

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
		version, err := pgClient.SchemaVersion(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		logger.InfoContext(ctx, "wire: postgres migrations applied", slog.Int("schema_version", version))
	}

	pool := pgClient.Pool()
	deps.IndexStore = postgres.NewAssetIndexStore(pool)
	deps.IndicatorStore = postgres.NewSoapIndicatorStore(pool)
	deps.StateStore = postgres.NewStateStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pool.Ping

	// --- Redis ---
	if want.redis {
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

		deps.IndexCache = redis.NewIndexCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if want.s3 {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
