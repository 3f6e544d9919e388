package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"studyrewards-backend/internal/config"
	"studyrewards-backend/internal/database"
	"studyrewards-backend/internal/handlers"
	"studyrewards-backend/internal/ledger"
	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/middleware"
	"studyrewards-backend/internal/models"
	"studyrewards-backend/internal/repository"
	"studyrewards-backend/internal/router"
	"studyrewards-backend/internal/services"
	"studyrewards-backend/internal/websocket"
	"studyrewards-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger.Configure(logger.Config{Level: cfg.LogLevel})
	log := logger.WithComponent("main")
	log.Info().Str("env", cfg.Env).Msg("starting study rewards backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()

	// ──── Step 4: Connect to the Ledger ────
	neo, err := ledger.NewNeoLedger(ctx, ledger.Config{
		RPCURL:            cfg.NeoRPCURL,
		BotWIF:            cfg.NeoBotWIF,
		RewardTokenHash:   cfg.NeoRewardTokenHash,
		BadgeContractHash: cfg.NeoBadgeContractHash,
		TxTimeout:         time.Duration(cfg.LedgerTxTimeoutSecs) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ledger connection failed")
	}
	defer neo.Close()

	// ──── Repositories ────
	userRepo := repository.NewUserRepo(pool)
	userCache := repository.NewRedisUserCache(redisClients.Cache, time.Duration(cfg.UserCacheTTLSeconds)*time.Second)
	userStore := repository.NewCachedUserStore(userRepo, userCache)

	// ──── Session Core ────
	thresholds := make(map[models.Tier]int, len(cfg.BadgeThresholds))
	for name, count := range cfg.BadgeThresholds {
		thresholds[models.Tier(name)] = count
	}

	notifier := services.NewRedisNotifier(redisClients.PubSub)
	scheduler := services.NewSessionScheduler(clockwork.NewRealClock(), cfg.InterimCadenceMinutes)
	coordinator := services.NewSettlementCoordinator(neo, notifier, cfg.RewardAmount, cfg.OperatingBalanceFloor)
	badges := services.NewBadgeEvaluator(neo, thresholds)
	workerPool := worker.NewPool(redisClients.Queue, cfg.SettlementWorkers)

	sessions := services.NewSessionService(
		userStore,
		scheduler,
		workerPool,
		coordinator,
		badges,
		notifier,
		clockwork.NewRealClock(),
		cfg.DurationOptions,
	)

	// ──── Step 5: Start Settlement Workers and Recovery ────
	workerPool.Start(sessions.Settle)

	sweeper, err := services.NewRecoverySweeper(userRepo, sessions, cfg.RecoverySchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid recovery schedule")
	}
	sweeper.Start(ctx)

	// ──── Step 6: HTTP Server ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	r := router.New(jwtAuth, handlers.NewStudySessionHandler(sessions), wsHub.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	failed := false
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("http server failed")
		failed = true
	}

	// Stop new work first, then drain what is running.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	wsHub.Close()
	sweeper.Stop()
	scheduler.Stop()
	workerPool.Stop()

	log.Info().Msg("stopped")
	if failed {
		os.Exit(1)
	}
}
