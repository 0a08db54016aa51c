package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"tenantflow/config"
	"tenantflow/internal/consumers"
	"tenantflow/internal/outbox"
	"tenantflow/internal/redis"
	"tenantflow/internal/repository"
	"tenantflow/pkg/database"
	"tenantflow/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	rdb := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := redis.Ping(ctx, rdb); err != nil {
		l.Logger.Warn("Redis unreachable, support hints will be dropped", zap.Error(err))
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
	runner, err := outbox.NewRunner(publisher, l.Logger)
	if err != nil {
		log.Fatalf("Failed to create outbox runner: %v", err)
	}

	g.Go(func() error {
		return runner.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		l.Logger.Error("Worker error", zap.Error(err))
		return
	}
	l.Logger.Info("Worker shutting down gracefully")
}
