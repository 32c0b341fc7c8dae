// Package backend opens the storage backend selected in the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/config"
	"github.com/giantswarm/oauth-grants/storage"
	"github.com/giantswarm/oauth-grants/storage/memory"
	"github.com/giantswarm/oauth-grants/storage/redis"
	"github.com/giantswarm/oauth-grants/storage/sqlstore"
)

// Backend is an open storage backend
type Backend struct {
	storage.Store

	Type string

	setInstrumentation func(*instrumentation.Instrumentation)
	runCleanup         func(ctx context.Context)
	close              func() error
}

// Open opens the backend named by cfg.Type: memory, redis or sql
func Open(cfg config.StorageConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case config.StorageMemory, "":
		store := memory.NewWithInterval(cfg.CleanupInterval)
		store.SetLogger(logger)
		return &Backend{
			Store:              store,
			Type:               config.StorageMemory,
			setInstrumentation: store.SetInstrumentation,
			// the store runs its own cleanup loop
			runCleanup: func(context.Context) {},
			close: func() error {
				store.Stop()
				return nil
			},
		}, nil

	case config.StorageRedis:
		store, err := redis.New(redis.Config{
			Address:   cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		return &Backend{
			Store:              store,
			Type:               config.StorageRedis,
			setInstrumentation: store.SetInstrumentation,
			// expired records carry key TTLs
			runCleanup: func(context.Context) {},
			close:      store.Close,
		}, nil

	case config.StorageSQL:
		store, err := sqlstore.New(sqlstore.Config{
			Driver: cfg.SQL.Driver,
			DSN:    cfg.SQL.DSN,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open sql storage: %w", err)
		}
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = time.Minute
		}
		return &Backend{
			Store:              store,
			Type:               config.StorageSQL,
			setInstrumentation: store.SetInstrumentation,
			runCleanup:         func(ctx context.Context) { store.RunCleanup(ctx, interval) },
			close:              store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// SetInstrumentation enables storage spans and metrics
func (b *Backend) SetInstrumentation(inst *instrumentation.Instrumentation) {
	b.setInstrumentation(inst)
}

// RunCleanup reclaims expired records until ctx is cancelled. Backends that expire
// records on their own return immediately.
func (b *Backend) RunCleanup(ctx context.Context) {
	b.runCleanup(ctx)
}

// Close releases the backend
func (b *Backend) Close() error {
	return b.close()
}

// SeedClients saves the configured clients, replacing stored clients with the same id
func (b *Backend) SeedClients(ctx context.Context, clients []config.ClientConfig) error {
	now := time.Now()
	for _, c := range clients {
		if err := b.SaveClient(ctx, c.StorageClient(now)); err != nil {
			return fmt.Errorf("seed client %q: %w", c.ClientID, err)
		}
	}
	return nil
}
