package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/fedcheck/internal/checker"
	"github.com/MrSnakeDoc/fedcheck/internal/config"
	"github.com/MrSnakeDoc/fedcheck/internal/coordinator"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver"
	"github.com/MrSnakeDoc/fedcheck/internal/httpserver/deps"
	"github.com/MrSnakeDoc/fedcheck/internal/index"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/membership"
	"github.com/MrSnakeDoc/fedcheck/internal/probe"
	"github.com/MrSnakeDoc/fedcheck/internal/redis"
	"github.com/MrSnakeDoc/fedcheck/internal/scheduler"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
	"github.com/MrSnakeDoc/fedcheck/internal/sources/roomversions"
	redisstore "github.com/MrSnakeDoc/fedcheck/internal/store/redis"
	"github.com/MrSnakeDoc/fedcheck/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	checker     *checker.Service
	reloader    *scheduler.TableReloader
	gc          *scheduler.GarbageCollector
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	registry := software.NewRegistry()

	// Room-version table - fail fast if the file is unusable
	tables, err := roomversions.NewProvider(
		roomversions.NewLoader(cfg.RoomVersionsFile),
		roomversions.NewMapper(registry),
	)
	if err != nil {
		loggerClient.Errorf("Failed to load room versions table: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("room versions table loaded",
		logger.String("source", tables.Source()),
		logger.String("updated", tables.Current().Updated))

	endpoint, tester := cfg.ProbeURL()
	prober, err := probe.New(probe.Options{
		Endpoint:          endpoint,
		FederationTester:  tester,
		SkipTLSValidation: cfg.SkipTLSValidation,
		Registry:          registry,
	})
	if err != nil {
		loggerClient.Errorf("Failed to build prober: %v", err)
		os.Exit(1)
	}

	// Redis is optional: without it results live only in memory
	var (
		redisClient *goredis.Client
		store       *redisstore.Store
	)
	if cfg.RedisAddr != "" {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		redisClient, err = redis.New(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		store = redisstore.NewStore(redisClient, cfg.RoomIdleTTL)
		loggerClient.Info("Redis initialized successfully")
	} else {
		loggerClient.Info("redis not configured, room results are kept in memory only")
	}

	coordOpts := coordinator.Options{
		Retries:      cfg.ProbeRetries,
		RetryBackoff: cfg.ProbeRetryBackoff,
		Logger:       loggerClient,
	}
	if store != nil {
		coordOpts.Sink = store
	}
	coord := coordinator.New(prober, coordOpts)

	// Initialize memory index
	memIndex := index.NewMemoryIndex()

	svcOpts := checker.Options{
		Concurrency: cfg.ProbeConcurrency,
		Timeout:     cfg.ProbeTimeout,
		Registry:    registry,
		Tables:      tables,
		Logger:      loggerClient,
	}
	if store != nil {
		svcOpts.Store = store
	}
	if cfg.HomeserverURL != "" {
		client, err := membership.NewClient(cfg.HomeserverURL, cfg.AccessToken, cfg.ProbeTimeout)
		if err != nil {
			loggerClient.Errorf("Failed to build membership client: %v", err)
			os.Exit(1)
		}
		svcOpts.Membership = client
		loggerClient.Info("room membership lookup enabled",
			logger.String("homeserver", cfg.HomeserverURL))
	} else {
		loggerClient.Info("homeserver not configured, room tests need an explicit server list")
	}
	svc := checker.New(coord, memIndex, svcOpts)

	// Restore persisted rooms on startup
	if store != nil {
		syncer := scheduler.NewRedisSyncer(store, svc, memIndex, loggerClient)
		if err := syncer.Sync(context.Background()); err != nil {
			loggerClient.Warn("failed to restore rooms from redis on startup, starting empty",
				logger.Error(err))
		}
	}

	// Create manual reload trigger channel
	reloadTrigger := make(chan struct{}, 1)

	reloader := scheduler.NewTableReloader(
		tables,
		loggerClient,
		cfg.ReloadInterval,
		reloadTrigger,
	)

	// Initialize garbage collector
	gc := scheduler.NewGarbageCollector(
		memIndex,
		svc,
		loggerClient,
		cfg.GCInterval,
		cfg.RoomIdleTTL,
	)

	// Dependencies passed to routes
	d := deps.Deps{
		Logger:          loggerClient,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		TimeNow:         time.Now,
		AllowedHosts:    cfg.AllowedHosts,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Checker:         svc,
		Tables:          tables,
		Membership:      cfg.HomeserverURL != "",
		ReloadTrigger:   reloadTrigger,
	}
	if store != nil {
		d.Store = store
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		checker:     svc,
		reloader:    reloader,
		gc:          gc,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting fedcheck v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("fedcheck %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start table reloader
	if err := a.reloader.Start(ctx); err != nil {
		return fmt.Errorf("failed to start table reloader: %w", err)
	}
	a.logger.Info("table reloader started",
		logger.Duration("interval", a.cfg.ReloadInterval))

	// Start garbage collector
	if err := a.gc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start garbage collector: %w", err)
	}
	a.logger.Info("garbage collector started",
		logger.Duration("interval", a.cfg.GCInterval),
		logger.Duration("idle_ttl", a.cfg.RoomIdleTTL))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.reloader.Stop()
	a.gc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ fedcheck stopped cleanly",
		logger.Int("rooms_in_memory", a.checker.Rooms()))
	_ = a.logger.Sync()
	return nil
}
