package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fabricbill/backend/internal/cache"
	"fabricbill/backend/internal/config"
	"fabricbill/backend/internal/ledger"
	"fabricbill/backend/internal/lock"
	"fabricbill/backend/internal/logger"
	"fabricbill/backend/internal/service"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/store/firestore"
	"fabricbill/backend/internal/store/memory"
	pgstore "fabricbill/backend/internal/store/postgres"
)

// App holds the wired repository and service shared by the server and the
// operator CLI.
type App struct {
	Repo    store.Repository
	Service *service.Service

	closers []func() error
	log     zerolog.Logger
}

// Build opens the configured store and, when REDIS_ADDR is set, a Redis
// client shared by the customer lock and the statement cache. An unreachable
// Redis falls back to the in-process lock and no statement cache.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	a := &App{log: logger.WithComponent("app")}
	repo, err := a.openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Repo = repo

	var (
		locker     lock.Locker          = lock.NewKeyedMutex()
		statements cache.StatementCache = cache.NoopStatementCache{}
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisStatementCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			a.log.Warn().Err(err).Msg("redis unavailable, using in-process lock and no statement cache")
			_ = client.Close()
		} else {
			locker = lock.NewRedisLocker(client, cfg.LockTTL(), logger.WithComponent("lock"))
			statements = redisCache
			a.closers = append(a.closers, client.Close)
			a.log.Info().Str("addr", cfg.RedisAddr).Msg("lock and statement cache: redis")
		}
	} else {
		a.log.Info().Msg("lock: in-process, statement cache: none")
	}

	a.Service = service.New(repo, service.Options{
		DefaultRegion: cfg.DefaultRegion,
		StatementTTL:  cfg.StatementCacheTTL(),
		Statements:    statements,
		Logger:        logger.WithComponent("service"),
		Ledger: ledger.Options{
			Locker:  locker,
			Timeout: cfg.LedgerTimeout(),
			Logger:  logger.WithComponent("ledger"),
		},
	})
	return a, nil
}

func (a *App) openRepository(ctx context.Context, cfg config.Config) (store.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.log.Info().Msg("repository: postgres")
		return pg, nil
	case config.BackendFirestore:
		fsStore, err := firestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firestore unavailable: %w", err)
		}
		a.closers = append(a.closers, fsStore.Close)
		a.log.Info().Str("project", cfg.FirestoreProjectID).Msg("repository: firestore")
		return fsStore, nil
	default:
		a.log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil
	}
}

// Close releases store and Redis connections in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
