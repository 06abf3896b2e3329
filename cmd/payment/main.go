package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"mall/internal/config"
	"mall/internal/db"
	"mall/internal/payment"
	"mall/internal/rabbit"
	"mall/internal/tracelog"
	"mall/internal/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracer(ctx, "payment-service", cfg.Env)
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

	publisher := rabbit.NewPublisher(rabbitClient, logger)

	paymentRepo := payment.NewRepository(pool, logger)
	paymentService := payment.NewService(pool, paymentRepo, publisher, logger)
	handler := payment.NewHandler(paymentService, publisher, logger)

	app := fiber.New(fiber.Config{ReadTimeout: cfg.HTTP.Timeout})
	payment.RegisterRoutes(app, handler)

	go func() {
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			tracelog.Error(ctx, logger, "HTTP server stopped")
		}
	}()

	tracelog.Info(ctx, logger, "Payment service started!")

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error shutting down HTTP server")
	}

	if err := rabbitClient.Close(); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error closing rabbitmq connection")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		tracelog.Error(shutdownCtx, logger, "Error shutting down telemetry")
	}

	pool.Close()
	tracelog.Info(shutdownCtx, logger, "Payment service stopped")
}
