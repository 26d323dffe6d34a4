package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/grushin/orderbot/internal/app"
	"github.com/grushin/orderbot/internal/config"
	"github.com/grushin/orderbot/internal/controller"
	"github.com/grushin/orderbot/internal/controller/state"
	"github.com/grushin/orderbot/internal/engine"
	"github.com/grushin/orderbot/internal/gateway"
	"github.com/grushin/orderbot/internal/repository"
	"github.com/grushin/orderbot/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("Starting order bot",
		zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		logger.Fatal("Failed to create connection pool", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Миграции
	migrator, err := app.NewMigrator(pool, "migrations")
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrator.Close()

	// Redis — тень черновиков оценок. Без него бот работает,
	// но черновики не переживают рестарт.
	redisClient, err := app.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, evaluation drafts won't survive restarts", zap.Error(err))
		redisClient = nil
	}

	// Репозитории
	userRepo := repository.NewUserRepository(pool)
	sessionRepo := repository.NewBookingSessionRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	evalRepo := repository.NewEvaluationRepository(pool)
	evalSessionRepo := repository.NewEvaluationSessionRepository(pool)

	// Сервисы
	userService := service.NewUserService(userRepo, logger)
	orderService := service.NewOrderService(orderRepo, logger)
	store := service.NewStore(userRepo, sessionRepo, orderRepo, evalRepo, evalSessionRepo, logger)

	// Движок
	buffer := engine.NewScoreBuffer(redisClient, 24*time.Hour, logger)
	orch := engine.NewOrchestrator(store, buffer, cfg.CompletionCheckDelay, cfg.BroadcastTimeout, logger)
	guard := engine.NewCooldownRegistry(cfg.CooldownWindow, logger)
	timers := engine.NewTimerRegistry(logger)

	// Telegram
	b, err := bot.New(cfg.TelegramToken)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Gateway и контроллер
	stateManager := state.NewManager()
	coordinator := gateway.NewCoordinator(b, logger)
	executor := gateway.NewExecutor(
		b,
		coordinator,
		userService,
		timers,
		state.NewAdapter(stateManager),
		cfg.BroadcastChannelID,
		logger,
	)

	botController := controller.NewBotController(
		b,
		userService,
		orderService,
		orch,
		guard,
		executor,
		stateManager,
		logger,
	)

	if err := botController.RegisterHandlers(ctx); err != nil {
		logger.Fatal("Failed to register handlers", zap.Error(err))
	}

	// Фоновая чистка
	sweeper := app.NewSweeper(guard, buffer, logger)
	sweeper.Start(ctx)

	logger.Info("✅ Order bot is running")
	botController.Start(ctx)

	// Graceful shutdown
	logger.Info("Shutting down...")
	sweeper.Stop()
	timers.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("Bye 👋")
}
