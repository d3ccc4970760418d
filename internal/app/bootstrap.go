package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/samara-industry/stockledger/internal/ledger"
	"github.com/samara-industry/stockledger/internal/platform/cache"
	"github.com/samara-industry/stockledger/internal/platform/db"
	"github.com/samara-industry/stockledger/internal/shared"
)

// Runtime holds the backing resources opened for the ledger.
type Runtime struct {
	Repository ledger.Repository
	Locker     shared.Locker
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	logger     *slog.Logger
}

// OpenRuntime connects the configured store and lock drivers.
func OpenRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{logger: logger}

	switch cfg.StoreDriver {
	case StoreMemory:
		rt.Repository = ledger.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on restart")
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.Pool = pool
		if cfg.PGAutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				rt.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema migrated")
		}
		rt.Repository = ledger.NewPostgresRepository(pool)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}

	switch cfg.LockDriver {
	case LockLocal:
		rt.Locker = shared.NewLocalLocker()
	case LockRedis:
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.Redis = client
		rt.Locker = shared.NewRedisLocker(client, shared.RedisLockerConfig{
			TTL:        cfg.LockTTL,
			RetryCount: cfg.LockRetryCount,
			Backoff:    cfg.LockRetryBackoff,
		})
	default:
		rt.Close()
		return nil, fmt.Errorf("app: unknown lock driver %q", cfg.LockDriver)
	}
	return rt, nil
}

// NewService builds the ledger service over the runtime resources.
func (rt *Runtime) NewService() *ledger.Service {
	return ledger.NewService(rt.Repository, rt.Locker, rt.logger)
}

// Ping probes the backing stores.
func (rt *Runtime) Ping(ctx context.Context) error {
	if rt.Pool != nil {
		if err := rt.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases every opened resource.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
