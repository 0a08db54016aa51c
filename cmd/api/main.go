package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tenantflow/config"
	"tenantflow/internal/checkout"
	"tenantflow/internal/consumers"
	"tenantflow/internal/handler"
	"tenantflow/internal/outbox"
	"tenantflow/internal/redis"
	"tenantflow/internal/repository"
	"tenantflow/internal/server"
	"tenantflow/pkg/database"
	"tenantflow/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := redis.Ping(ctx, rdb); err != nil {
		l.Logger.Warn("Redis unreachable, rate limiting and realtime hints are degraded", zap.Error(err))
	}

	store := repository.NewStore(db)

	registry := outbox.NewRegistry()
	support := consumers.NewSupportTicketConsumer(store, redis.NewPublisher(rdb), l.Logger).WithChannel(redis.SupportChannel)
	if err := consumers.Register(registry, l.Logger,
		consumers.NewSearchIndexConsumer(store),
		consumers.NewLoyaltyConsumer(store),
		consumers.NewCrmConsumer(store),
		support,
	); err != nil {
		log.Fatalf("Failed to register consumers: %v", err)
	}

	publisher, err := outbox.NewPublisher(store, registry, cfg.Outbox, outbox.WithLogger(l.Logger))
	if err != nil {
		log.Fatalf("Failed to create outbox publisher: %v", err)
	}
	engine := checkout.NewEngine(store, cfg.Fees, checkout.WithLogger(l.Logger))

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Checkout: handler.NewCheckoutHandler(engine),
		Outbox:   handler.NewOutboxHandler(publisher),
	}, server.Dependencies{
		HealthCheck: func(context.Context) error { return database.HealthCheck() },
		RateLimiter: redis.NewRateLimiter(rdb, redis.RateLimitConfig{
			CheckoutLimit:  cfg.CheckoutRateLimit,
			CheckoutWindow: cfg.CheckoutRateLimitWindow,
		}),
	})

	if err := srv.Start(ctx); err != nil {
		l.Errorf("Server exited with error: %v", err)
	}
}
