package repository

/*
Файл open.go — выбор и подготовка хранилища заявок при старте.

Подключение к внешнему хранилищу проверяется с повторами (база может
подниматься позже шлюза). На пути принятия решения повторов нет.
*/

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/release-approval-gate/internal/engine"
	"github.com/xela07ax/release-approval-gate/internal/infra"
	"github.com/xela07ax/release-approval-gate/internal/repository/memory"
	"github.com/xela07ax/release-approval-gate/internal/repository/postgres"
	"github.com/xela07ax/release-approval-gate/internal/repository/redisrepo"
	"github.com/xela07ax/release-approval-gate/internal/repository/sqlite"
	"go.uber.org/zap"
)

// Store — хранилище заявок вместе с освобождением ресурсов.
type Store interface {
	engine.ApprovalStore
	io.Closer
}

type pinger interface {
	Ping(ctx context.Context) error
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// ProbeAttempts — сколько раз проверяем хранилище при старте.
var ProbeAttempts uint = 5

// Open создает хранилище по cfg.Storage.Driver, проверяет соединение и готовит схему.
func Open(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (Store, error) {
	log := logger.Named("storage")

	var (
		store Store
		err   error
	)
	switch cfg.Storage.Driver {
	case infra.DriverMemory:
		store = memory.NewApprovalRepo()
	case infra.DriverSQLite:
		store, err = sqlite.NewApprovalRepo(cfg.Storage.SQLitePath)
	case infra.DriverPostgres:
		store, err = postgres.NewApprovalRepo(ctx, postgres.PoolConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
	case infra.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisrepo.NewApprovalRepo(rdb, cfg.Storage.RecordTTL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	if err := prepare(ctx, store, log); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("prepare %s store: %w", cfg.Storage.Driver, err)
	}

	log.Info("approval store ready", zap.String("driver", cfg.Storage.Driver))
	return store, nil
}

func prepare(ctx context.Context, store Store, log *zap.Logger) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(ProbeAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)

	return r.Do(func() error {
		if p, ok := store.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				log.Warn("store is not reachable yet", zap.Error(err))
				return err
			}
		}
		if s, ok := store.(schemaEnsurer); ok {
			if err := s.EnsureSchema(ctx); err != nil {
				log.Warn("failed to ensure schema", zap.Error(err))
				return err
			}
		}
		return nil
	})
}
