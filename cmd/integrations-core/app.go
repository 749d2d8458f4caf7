package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors/providers"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/integrations-core/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/integrations-core/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/integrations-core/internal/adapters/driven/redis"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/secrets"
	"github.com/custodia-labs/integrations-core/internal/adapters/driven/sqlite"
	"github.com/custodia-labs/integrations-core/internal/adapters/driving/http"
	"github.com/custodia-labs/integrations-core/internal/config"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/services"
	"github.com/custodia-labs/integrations-core/internal/worker"
)

// shutdownTimeout bounds how long in-flight tasks may run after shutdown
// begins.
const shutdownTimeout = 30 * time.Second

// errNoQueue is returned when worker mode runs on a backend without a queue.
var errNoQueue = errors.New("worker mode needs a task queue: set REDIS_URL or use a postgres DATABASE_URL")

// storage is the persistence selected from DATABASE_URL and REDIS_URL.
type storage struct {
	integrations driven.IntegrationStore
	states       driven.OAuthStateStore
	lock         driven.DistributedLock
	queue        driven.TaskQueue // nil on SQLite without Redis
	db           http.Pinger
	redis        http.Pinger // nil without Redis
	closers      []func() error
}

// app holds the wired process for one run mode.
type app struct {
	mode    string
	logger  *slog.Logger
	server  *http.Server
	worker  *worker.Worker // nil without a queue
	sweeper *worker.Sweeper
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	st, err := openStorage(ctx, cfg, cipher, logger)
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry(providers.Options{
		HTTP: connectors.Options{
			Timeout:   cfg.HTTPClientTimeout,
			RateLimit: cfg.ProviderRateLimit,
		},
		QuickBooksSandbox: cfg.QuickBooksSandbox,
	})

	tokens := services.NewTokenService(services.TokenServiceConfig{
		Store:      st.integrations,
		Connectors: registry,
		Apps:       cfg.Providers,
		Lock:       st.lock,
		Logger:     logger,
	})
	metrics := services.NewMetricsService(services.MetricsServiceConfig{
		Store:      st.integrations,
		Connectors: registry,
		Tokens:     tokens,
		Queue:      st.queue,
		Logger:     logger,
	})
	connect := services.NewConnectService(services.ConnectServiceConfig{
		Apps:       cfg.Providers,
		States:     st.states,
		Store:      st.integrations,
		Connectors: registry,
		Metrics:    metrics,
		Logger:     logger,
	})
	integrations := services.NewIntegrationService(services.IntegrationServiceConfig{
		Store:      st.integrations,
		Connectors: registry,
		Tokens:     tokens,
		Logger:     logger,
	})

	a := &app{
		mode:    cfg.RunMode,
		logger:  logger,
		sweeper: worker.NewSweeper(st.states, worker.DefaultSweepInterval, logger),
		closers: st.closers,
	}

	if st.queue != nil && cfg.RunMode != config.ModeAPI {
		a.worker = worker.NewWorker(worker.WorkerConfig{
			TaskQueue:      st.queue,
			Metrics:        metrics,
			Logger:         logger,
			Concurrency:    cfg.WorkerConcurrency,
			DequeueTimeout: time.Duration(cfg.WorkerDequeueTimeout) * time.Second,
		})
	}

	if cfg.RunMode != config.ModeWorker {
		deps := http.Deps{
			Connect:      connect,
			Integrations: integrations,
			Metrics:      metrics,
			Providers:    services.NewProviderService(cfg.Providers, registry),
			Sessions:     auth.NewJWTVerifier(cfg.SessionJWTSecret),
			TaskQueue:    st.queue,
			DB:           st.db,
			Redis:        st.redis,
			Logger:       logger,
		}
		if a.worker != nil {
			deps.Worker = a.worker
		}
		a.server = http.NewServer(http.Config{
			Host:                cfg.Host,
			Port:                cfg.Port,
			Version:             version,
			FrontendCallbackURL: cfg.FrontendCallbackURL,
			CORSOrigins:         cfg.CORSOrigins,
		}, deps)
	}

	if configured := cfg.Providers.Configured(); len(configured) == 0 {
		logger.Warn("no provider apps configured; every authorize call will fail")
	} else {
		logger.Info("provider apps configured", "count", len(configured))
	}

	return a, nil
}

// openStorage picks SQLite for sqlite: URLs and PostgreSQL otherwise. Redis,
// when configured, takes over the lock, pending states and the queue.
func openStorage(ctx context.Context, cfg *config.Config, cipher driven.SecretCipher, logger *slog.Logger) (*storage, error) {
	st := &storage{}

	if path, ok := sqlite.PathFromURL(cfg.DatabaseURL); ok {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		st.integrations = sqlite.NewIntegrationStore(db, cipher)
		st.states = sqlite.NewOAuthStateStore(db)
		st.lock = sqlite.NewLock(db)
		st.db = db
		logger.Info("using sqlite storage", "path", db.Path())
	} else {
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		if err := db.InitSchema(ctx); err != nil {
			st.close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		st.integrations = postgres.NewIntegrationStore(db.DB, cipher)
		st.states = postgres.NewOAuthStateStore(db.DB)
		st.lock = postgres.NewLeaseLock(db.DB)
		st.queue = postgresqueue.NewQueue(db.DB)
		st.db = db
		logger.Info("using postgres storage")
	}

	if cfg.RedisURL == "" {
		return st, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	st.closers = append(st.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		st.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	queue, err := redisqueue.NewQueue(client, fmt.Sprintf("worker-%d", os.Getpid()), logger)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("create task queue: %w", err)
	}
	st.queue = queue
	st.lock = redisadapter.NewLock(client)
	st.states = redisadapter.NewOAuthStateStore(client)
	st.redis = redisPinger{client: client}
	logger.Info("using redis for locks, pending states and the task queue")

	return st, nil
}

func (st *storage) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		_ = st.closers[i]()
	}
}

// redisPinger adapts a Redis client to the readiness check.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// run blocks until ctx is cancelled or the server fails.
func (a *app) run(ctx context.Context) error {
	switch a.mode {
	case config.ModeWorker:
		if a.worker == nil {
			return errNoQueue
		}
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		<-ctx.Done()
		a.stopWorker()
		return nil

	case config.ModeAPI, config.ModeAll:
		go a.sweeper.Run(ctx)
		if a.worker != nil {
			if err := a.worker.Start(ctx); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
			defer a.stopWorker()
		} else if a.mode == config.ModeAll {
			a.logger.Warn("no task queue; metrics are fetched inline")
		}
		return a.server.Start(ctx)

	default:
		return fmt.Errorf("unknown mode: %s (use: api, worker, or all)", a.mode)
	}
}

// stopWorker drains the worker on a context detached from the cancelled run
// context.
func (a *app) stopWorker() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.worker.Stop(ctx); err != nil {
		a.logger.Warn("worker did not drain before the shutdown deadline", "error", err)
	}
}

// Close releases database and Redis connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
