package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paysaga-backend/internal/cron"
	"github.com/angelmondragon/paysaga-backend/internal/payments"
	"github.com/angelmondragon/paysaga-backend/pkg/bootstrap"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/migrate"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/redis"
)

func main() {
	cfg, logg := bootstrap.Load("cron-worker")

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	bootstrap.Must(logg, "database", err)
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	bootstrap.Must(logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	bootstrap.Must(logg, "redis", err)
	defer bootstrap.CloseLogged(logg, "redis", redisClient.Close)

	promRegistry := prometheus.NewRegistry()
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg), 2*cfg.Cron.Interval)
	bootstrap.Must(logg, "cron lock", err)

	registry, err := buildRegistry(cfg, dbClient, logg, promRegistry)
	bootstrap.Must(logg, "cron jobs", err)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(promRegistry),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	bootstrap.Must(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, promRegistry); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(client *redis.Client, cfg *config.Config) string {
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	return client.LockKey(fmt.Sprintf("cron-worker:%s:%s", cfg.Service.Kind, env))
}

// buildRegistry registers the monitoring jobs for the configured service
// kind. Every kind watches its own outbox.
func buildRegistry(cfg *config.Config, dbClient *db.Client, logg *logger.Logger, reg prometheus.Registerer) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	backlog, err := cron.NewOutboxBacklogJob(cron.OutboxBacklogJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Metrics:    metrics.NewOutboxMetrics(reg),
		LagAge:     cfg.Cron.OutboxLagAge,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(backlog); err != nil {
		return nil, err
	}

	if cfg.Service.IsPayments() {
		attention, err := cron.NewPaymentsAttentionJob(cron.PaymentsAttentionJobParams{
			Logger:     logg,
			Repository: payments.NewRepository(dbClient.DB()),
			Metrics:    metrics.NewSagaMetrics(reg),
			StuckAge:   cfg.Cron.StuckPaymentAge,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(attention); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
