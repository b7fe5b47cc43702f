package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/api"
	"github.com/codeclash/codeclash-backend/internal/api/handlers"
	"github.com/codeclash/codeclash-backend/internal/config"
	"github.com/codeclash/codeclash-backend/internal/migrations"
	"github.com/codeclash/codeclash-backend/internal/repository"
	"github.com/codeclash/codeclash-backend/internal/service"
	"github.com/codeclash/codeclash-backend/internal/websocket"
	"github.com/codeclash/codeclash-backend/pkg/database"
	"github.com/codeclash/codeclash-backend/pkg/distributed"
	"github.com/codeclash/codeclash-backend/pkg/executor"
	jwtutil "github.com/codeclash/codeclash-backend/pkg/jwt"
	"github.com/codeclash/codeclash-backend/pkg/logger"
	"github.com/codeclash/codeclash-backend/pkg/ratelimit"
)

const maxQueuedJobs = 10000

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env)
	defer logger.Sync()

	logger.Info("Starting CodeClash Backend",
		"port", cfg.Port,
		"env", cfg.Env,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := migrations.Run(db); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", "error", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	cancelPing()
	logger.Info("Redis connection established")

	// Repositories
	matchRepo := repository.NewMatchRepository(db)
	userRepo := repository.NewUserRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	ticketPool := repository.NewRedisTicketPool(rdb, logger.Named("ticket_pool"))
	gameStateStore := repository.NewRedisGameStateStore(rdb, cfg.GameStateTTL)
	presenceStore := repository.NewRedisPresenceStore(rdb)
	deadlineStore := repository.NewRedisDeadlineStore(rdb, logger.Named("deadlines"))

	// Cross-instance plumbing
	hub := websocket.NewHub(logger.Named("hub"))
	go hub.Run()

	bus := distributed.NewEventBus(rdb, distributed.DefaultEventChannel, logger.Named("event_bus"))
	busCtx, cancelBus := context.WithCancel(context.Background())
	busReady := make(chan struct{})
	go func() {
		if err := bus.Subscribe(busCtx, busReady, hub.DeliverEnvelope); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event bus subscription ended", "error", err)
		}
	}()
	select {
	case <-busReady:
	case <-time.After(5 * time.Second):
		logger.Warn("Event bus subscription not confirmed, events fall back to local delivery on publish errors")
	}

	notifier := websocket.NewNotifier(hub, bus, logger.Named("notifier"))
	lockManager := distributed.NewRedisLockManager(rdb, bus.InstanceID())

	// Execution
	executorClient, err := executor.NewClient(cfg.ExecutorAddr, cfg.ExecutorTimeout)
	if err != nil {
		logger.Fatal("Failed to configure executor client", "error", err)
	}
	defer executorClient.Close()

	if err := executorClient.HealthCheck(context.Background()); err != nil {
		logger.Warn("Executor is not healthy yet", "error", err)
	}

	runQueue := distributed.NewJobQueue(rdb, service.QueueRun, cfg.JobBackoffBase, maxQueuedJobs)
	submitQueue := distributed.NewJobQueue(rdb, service.QueueSubmit, cfg.JobBackoffBase, maxQueuedJobs)
	runner := service.NewQueueRunner(cfg.JobMaxAttempts, cfg.JobQueueWait, runQueue, submitQueue)

	workerCfg := service.WorkerConfig{Concurrency: cfg.WorkerConcurrency}
	workers := []*service.ExecutionWorker{
		service.NewExecutionWorker(runQueue, executorClient, workerCfg, logger.Named("worker.run")),
		service.NewExecutionWorker(submitQueue, executorClient, workerCfg, logger.Named("worker.submit")),
	}
	for _, w := range workers {
		w.Start()
	}

	// Domain services
	eloService := service.NewELOService(cfg.RatingKFactor)
	gameStateService := service.NewGameStateService(gameStateStore, logger.Named("game_state"))

	matchService := service.NewMatchService(
		matchRepo,
		questionRepo,
		userRepo,
		gameStateService,
		presenceStore,
		deadlineStore,
		lockManager,
		eloService,
		notifier,
		service.MatchConfig{
			JoinTimeout:      cfg.JoinTimeout,
			ReconnectTimeout: cfg.ReconnectTimeout,
			SweepInterval:    cfg.DeadlineSweep,
		},
		logger.Named("match"),
	)
	matchService.Start()

	matchmakingService := service.NewMatchmakingService(
		ticketPool,
		userRepo,
		matchRepo,
		matchService,
		notifier,
		lockManager,
		service.MatchmakingConfig{
			BaseTolerance:      cfg.BaseTolerance,
			TolerancePerSecond: cfg.TolerancePerSecond,
			PollInterval:       cfg.PollInterval,
			MaxQueueTime:       cfg.MaxQueueTime,
		},
		logger.Named("matchmaking"),
	)
	matchmakingService.Start()

	gradingService := service.NewGradingService(
		matchRepo,
		questionRepo,
		submissionRepo,
		runner,
		gameStateService,
		matchService,
		notifier,
		service.GradingConfig{
			RunTimeout:    cfg.RunTimeout,
			RunTimeBudget: cfg.RunTimeBudget,
			CaseTimeout:   cfg.CaseTimeout,
		},
		logger.Named("grading"),
	)

	hub.SetRouter(websocket.NewDispatcher(matchmakingService, matchService, logger.Named("dispatcher")))

	router := api.SetupRouter(cfg, api.Dependencies{
		Grader:  gradingService,
		Matches: matchService,
		Hub:     hub,
		JWT:     jwtutil.NewJWTManager(cfg.JWTSecret, 24*time.Hour),
		Limiter: ratelimit.NewRedisRateLimiter(rdb, "ratelimit"),
		HealthChecks: map[string]handlers.Pinger{
			"postgres": handlers.PingFunc(func(ctx context.Context) error { return db.PingContext(ctx) }),
			"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
		HealthStats: map[string]handlers.StatsFunc{
			"queue.run":    func(ctx context.Context) (interface{}, error) { return runQueue.GetStats(ctx) },
			"queue.submit": func(ctx context.Context) (interface{}, error) { return submitQueue.GetStats(ctx) },
			"match.deadlines": func(ctx context.Context) (interface{}, error) {
				pending, err := deadlineStore.Pending(ctx)
				return map[string]int64{"pending": pending}, err
			},
		},
		Logger: logger.Named("http"),
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	matchmakingService.Stop()
	gradingService.Wait()
	matchService.Stop()
	for _, w := range workers {
		w.Stop()
	}
	hub.Stop()
	bus.Stop()
	cancelBus()

	logger.L().Info("Server exited", zap.String("instance", bus.InstanceID()))
}
