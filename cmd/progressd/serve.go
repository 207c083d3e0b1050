package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alem-hub/study-progress/config"
	"github.com/alem-hub/study-progress/internal/application/command"
	"github.com/alem-hub/study-progress/internal/application/eventhandler"
	"github.com/alem-hub/study-progress/internal/application/query"
	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/progress/catalog"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/postgres"
	rediscache "github.com/alem-hub/study-progress/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-progress/internal/infrastructure/persistence/sqlite"
	httpserver "github.com/alem-hub/study-progress/internal/interface/http"
	"github.com/alem-hub/study-progress/internal/interface/http/handlers"
	"github.com/alem-hub/study-progress/pkg/clock"
	"github.com/alem-hub/study-progress/pkg/logger"
)

func newServeCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFiles)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// application - собранный граф зависимостей serve.
type application struct {
	store       progress.Store
	cache       *rediscache.Cache
	bus         eventBus
	catalog     *progress.Catalog
	engine      *progress.Engine
	complete    *command.CompleteSessionHandler
	getProgress *query.GetProgressHandler
	health      *handlers.CompositeHealthChecker

	closers []func()
}

// eventBus - общее подмножество локальной и Redis шины.
type eventBus interface {
	shared.EventBus
	Close() error
}

// close освобождает ресурсы в обратном порядке.
func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log, slogLog := setupLogging(cfg)
	log.Info("starting study progress service",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("driver", cfg.Database.Driver),
		logger.String("timezone", cfg.Progress.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. СБОРКА ЗАВИСИМОСТЕЙ
	// ─────────────────────────────────────────────────────────────────────────
	app, err := buildApplication(ctx, cfg, slogLog, log)
	if err != nil {
		return err
	}
	defer app.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.EnableCORS = cfg.HTTP.EnableCORS
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.APIKeys = cfg.HTTP.APIKeys

	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		CompleteSession: app.complete,
		GetProgress:     app.getProgress,
		Logger:          log,
		HealthChecker:   app.health,
		Version:         cfg.App.Version,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ОЖИДАНИЕ СИГНАЛА И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	if err := server.Run(ctx, cfg.App.ShutdownTimeout); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}

// buildApplication собирает хранилище, кеш, шину событий, движок и обработчики.
func buildApplication(ctx context.Context, cfg *config.Config, slogLog *slog.Logger, log *logger.Logger) (_ *application, err error) {
	app := &application{
		health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Хранилище агрегатов
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.store = store.store
	app.closers = append(app.closers, store.close)
	app.health.AddCheck("store", handlers.NewPingCheck(store.pinger))

	// Redis: кеш снимков и межпроцессная шина (опционально)
	if cfg.Redis.Enabled {
		cache, cerr := rediscache.NewCache(ctx, redisConfig(cfg))
		if cerr != nil {
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(cerr))
		} else {
			app.cache = cache
			app.closers = append(app.closers, func() { _ = cache.Close() })
			cached := rediscache.NewCachedStore(app.store, cache, nil, log, rediscache.CachedStoreConfig{
				KeyPrefix: cfg.Redis.KeyPrefix,
				TTL:       cfg.Redis.SnapshotTTL,
			})
			app.store = cached
			app.health.AddOptionalCheck("cache", handlers.NewPingCheck(cache))
			app.health.AddOptionalCheck("cache_circuit", cached.CheckBreaker)
			log.Info("Redis connection established", logger.String("addr", redisConfig(cfg).Addr()))
		}
	}

	// Шина событий
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = slogLog
	busCfg.AsyncMode = cfg.Observability.EventBusAsync
	busCfg.WorkerPoolSize = cfg.Observability.EventBusWorkers

	if cfg.Redis.EventBus && app.cache != nil {
		bus, berr := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisPubSub(app.cache.Client()),
			ChannelName:    cfg.Redis.EventChannel,
			LocalBusConfig: busCfg,
			Logger:         slogLog,
		})
		if berr != nil {
			return nil, fmt.Errorf("redis event bus: %w", berr)
		}
		app.bus = bus
	} else {
		app.bus = messaging.NewInMemoryEventBus(busCfg)
	}
	app.closers = append(app.closers, func() { _ = app.bus.Close() })

	announcer := eventhandler.NewOnProgressChangedHandler(eventhandler.NewLogAnnouncer(slogLog), slogLog)
	if err := announcer.Register(app.bus); err != nil {
		return nil, fmt.Errorf("register event handlers: %w", err)
	}

	// Каталог значков
	app.catalog, err = catalog.Load(cfg.Progress.BadgeCatalog)
	if err != nil {
		return nil, fmt.Errorf("load badge catalog: %w", err)
	}
	for _, problem := range catalog.Check(app.catalog) {
		log.Warn("badge catalog problem",
			logger.BadgeID(problem.BadgeID),
			logger.String("reason", problem.Reason))
	}
	log.Info("badge catalog loaded", logger.Int("badges", app.catalog.Len()))

	// Движок и обработчики
	rules := cfg.Progress.XPRules()
	app.engine, err = progress.NewEngine(progress.EngineConfig{
		Location: cfg.Progress.Location,
		Rules:    &rules,
		Catalog:  app.catalog,
		Clock:    clock.SystemClock{},
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	handlerCfg := command.DefaultCompleteSessionHandlerConfig()
	handlerCfg.MaxAttempts = cfg.Retry.MaxAttempts
	handlerCfg.InitialBackoff = cfg.Retry.InitialBackoff
	handlerCfg.MaxBackoff = cfg.Retry.MaxBackoff
	handlerCfg.StoreTimeout = cfg.Progress.StoreTimeout

	app.complete = command.NewCompleteSessionHandler(app.engine, app.store, app.bus, log, handlerCfg)
	app.getProgress = query.NewGetProgressHandler(app.store, app.catalog, cfg.Progress.Location, clock.SystemClock{})

	return app, nil
}

// openedStore - хранилище вместе с его проверкой и закрытием.
type openedStore struct {
	store  progress.Store
	pinger handlers.Pinger
	close  func()
}

// openStore открывает хранилище по DB_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*openedStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		log.Info("connecting to database...")
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", logger.Int("applied", applied))
		}
		repo := postgres.NewProgressRepository(conn)
		return &openedStore{store: repo, pinger: repo, close: conn.Close}, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("sqlite store opened", logger.String("path", cfg.Database.SQLitePath))
		return &openedStore{store: s, pinger: s, close: func() { _ = s.Close() }}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store, progress is lost on restart")
		s := memory.NewStore()
		return &openedStore{store: s, pinger: s, close: func() {}}, nil

	default:
		return nil, errors.New("unknown store driver " + cfg.Database.Driver)
	}
}

func postgresConfig(cfg *config.Config) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.Database.URL
	pg.MaxConns = cfg.Database.MaxConns
	pg.MinConns = cfg.Database.MinConns
	pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pg.ConnectTimeout = cfg.Database.ConnectTimeout
	return pg
}

func redisConfig(cfg *config.Config) rediscache.Config {
	rc := rediscache.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	return rc
}
