package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mall/internal/config"
	"mall/internal/consumer"
	"mall/internal/db"
	"mall/internal/event"
	"mall/internal/inbox"
	"mall/internal/rabbit"
	"mall/internal/tracelog"
	"mall/internal/tracing"
	"mall/internal/warehouse"
)

const consumerName = "wms-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracer(ctx, consumerName, cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger, cfg.Env)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Error creating postgres pool: %v", err)
	}

	rabbitClient, err := rabbit.Connect(ctx, rabbit.Config{
		URL:          cfg.Rabbit.URL,
		Exchange:     cfg.Rabbit.Exchange,
		ExchangeType: cfg.Rabbit.ExchangeType,
		RoutingKey:   cfg.Rabbit.RoutingKey,
	}, logger)
	if err != nil {
		log.Fatalf("Error connecting to rabbitmq: %v", err)
	}

	if err := rabbitClient.DeclareConsumerQueue(cfg.WMS.Queue); err != nil {
		log.Fatalf("Error declaring queue: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	inboxRepo := inbox.NewRepository(logger)
	warehouseRepo := warehouse.NewRepository(pool, logger)
	warehouseService := warehouse.NewCachedService(
		warehouse.NewService(warehouseRepo, cfg.WMS.DeductLocationID, logger),
		redisClient,
	)

	handler := consumer.Shell(
		pool,
		inboxRepo,
		consumerName,
		event.TypeOrderPaid,
		warehouseService.ReserveAndDeduct,
		logger,
	)

	queueConsumer := rabbit.NewConsumer(
		rabbitClient,
		cfg.WMS.Queue,
		cfg.Rabbit.Prefetch,
		cfg.Rabbit.MaxAttempts,
		handler,
		logger,
	)

	go func() {
		if err := queueConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			tracelog.Error(ctx, logger, "Consumer stopped with error")
			stop()
		}
	}()

	app := fiber.New(fiber.Config{ReadTimeout: cfg.HTTP.Timeout})
	warehouse.RegisterRoutes(app, warehouse.NewHandler(warehouseService, logger))

	go func() {
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			tracelog.Error(ctx, logger, "HTTP server stopped")
		}
	}()

	tracelog.Info(ctx, logger, "WMS service started!")

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error shutting down HTTP server")
	}

	if err := rabbitClient.Close(); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error closing rabbitmq connection")
	}

	if err := redisClient.Close(); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error closing redis client")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error shutting down telemetry")
	}

	pool.Close()
	tracelog.Info(shutdownCtx, logger, "WMS service stopped")
}
