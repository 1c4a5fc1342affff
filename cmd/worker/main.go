package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paysaga-backend/internal/consumers"
	"github.com/angelmondragon/paysaga-backend/pkg/bootstrap"
	"github.com/angelmondragon/paysaga-backend/pkg/broker/connect"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/migrate"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
	"github.com/angelmondragon/paysaga-backend/pkg/redis"
)

func main() {
	cfg, logg := bootstrap.Load("worker")

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	bootstrap.Must(logg, "database", err)
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	bootstrap.Must(logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	bootstrap.Must(logg, "redis", err)
	defer bootstrap.CloseLogged(logg, "redis", redisClient.Close)

	cache, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	bootstrap.Must(logg, "idempotency manager", err)

	eventRegistry, err := registry.NewEventRegistry(cfg.Topics)
	bootstrap.Must(logg, "event registry", err)

	promRegistry := prometheus.NewRegistry()
	handler, err := buildHandler(cfg, dbClient.DB(), logg, metrics.NewSagaMetrics(promRegistry))
	bootstrap.Must(logg, "consumer handler", err)

	runner, err := consumers.NewRunner(cfg.Service.Group(), handler, eventRegistry.Decoders(), logg, consumers.RunnerOptions{
		Cache:   cache,
		Lanes:   cfg.Eventing.ConsumerLanes,
		Metrics: metrics.NewConsumerMetrics(promRegistry),
	})
	bootstrap.Must(logg, "consumer runner", err)

	subscriber, closeSubscriber, err := connect.NewSubscriber(context.Background(), cfg, logg)
	bootstrap.Must(logg, "broker subscriber", err)
	defer bootstrap.CloseLogged(logg, "broker subscriber", closeSubscriber)

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Subscriber: subscriber,
		Runner:     runner,
		Topics:     eventRegistry,
	})
	bootstrap.Must(logg, "worker service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"consumer_group": cfg.Service.Group(),
		"broker":         cfg.Broker.Kind,
	})

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, promRegistry); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
