package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	httptransport "github.com/spec-kit/pod-racer/internal/api/http"
	"github.com/spec-kit/pod-racer/internal/api/http/handlers"
	"github.com/spec-kit/pod-racer/internal/auth"
	"github.com/spec-kit/pod-racer/internal/config"
	"github.com/spec-kit/pod-racer/internal/events"
	"github.com/spec-kit/pod-racer/internal/ledger"
	"github.com/spec-kit/pod-racer/internal/observability"
	"github.com/spec-kit/pod-racer/internal/persistence"
	"github.com/spec-kit/pod-racer/internal/pool"
	"github.com/spec-kit/pod-racer/internal/queue"
	"github.com/spec-kit/pod-racer/internal/race"
	"github.com/spec-kit/pod-racer/internal/repository"
	"github.com/spec-kit/pod-racer/internal/service"
	"github.com/spec-kit/pod-racer/internal/session"
	"github.com/spec-kit/pod-racer/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFiles := pflag.StringSlice("env-file", nil, "env files to load before reading configuration")
	pflag.Parse()

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			return err
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo    repository.UserRepository
		sessionRepo repository.SessionRepository
	)
	if pg.Enabled() {
		userRepo = repository.NewUserRepository(pg.PoolHandle())
		sessionRepo = repository.NewSessionRepository(pg.PoolHandle())
	} else {
		userRepo = repository.NewMemoryUserRepository()
		sessionRepo = repository.NewMemorySessionRepository()
	}

	clk := clock.RealClock{}
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	persistenceService := service.NewPersistenceService(userRepo, sessionRepo, logger)
	persistenceWorker := worker.NewPersistenceWorker(persistenceService.Apply, 0, logger)
	persistenceWorker.Register(dispatcher, service.PersistedEventTypes...)
	if redis.Enabled() {
		events.NewRedisRelay(redis.Client, cfg.Events.RedisChannel, logger).Register(dispatcher)
	}

	podPool, err := pool.New(cfg.Pool.Pods)
	if err != nil {
		return err
	}
	creditLedger := ledger.New(clk, dispatcher)

	minDelay, maxDelay := cfg.Race.DelayRange()
	engine := race.NewEngine(race.Config{
		Candidates:    cfg.Race.Candidates,
		Timeout:       cfg.Race.Timeout(),
		DrainCooldown: cfg.Race.DrainCooldown(),
	}, race.Dependencies{
		Pool:    podPool,
		Prober:  race.NewSimulatedProber(minDelay, maxDelay, cfg.Race.FailureRate),
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	})
	waiting := queue.NewManager(queue.Config{
		MaxLength:   cfg.Queue.MaxLength,
		AverageHold: cfg.Queue.AverageHold(),
	}, clk)
	registry := session.NewRegistry(session.Dependencies{
		Ledger:     creditLedger,
		Pool:       podPool,
		Engine:     engine,
		Queue:      waiting,
		Dispatcher: dispatcher,
		Clock:      clk,
		Logger:     logger,
		Metrics:    metrics,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL(), clk)
	keys, err := auth.NewKeyValidator(cfg.Auth.SharedKey, cfg.Auth.KeyHashCost)
	if err != nil {
		return err
	}

	podService := service.NewPodService(service.PodDependencies{
		Ledger:         creditLedger,
		Pool:           podPool,
		Registry:       registry,
		Tokens:         tokens,
		Metrics:        metrics,
		Logger:         logger,
		InitialCredits: cfg.Credits.Initial,
	})
	if _, err := podService.RestoreUsers(ctx, persistenceService); err != nil {
		return err
	}

	sweeper := worker.NewSweeper(cfg.Sweep.Interval(), worker.SweeperDependencies{
		Target:  registry,
		Pods:    podPool,
		Queue:   waiting,
		Metrics: metrics,
		Clock:   clk,
		Logger:  logger,
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, podPool.Size),
		Pods:           handlers.NewPodsHandler(podService),
		AuthMiddleware: auth.NewAuthMiddleware(keys, tokens),
		Metrics:        metrics,
	})

	// The persistence worker gets its own context so it drains after the
	// server and sweeper have stopped publishing.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan error, 1)
	go func() { persistDone <- persistenceWorker.Run(persistCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.Int("pods", podPool.Size()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	err = g.Wait()
	registry.Wait()
	stopPersist()
	if perr := <-persistDone; perr != nil && err == nil {
		err = perr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
