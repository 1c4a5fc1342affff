package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paysaga-backend/pkg/bootstrap"
	"github.com/angelmondragon/paysaga-backend/pkg/broker/connect"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/migrate"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
)

func main() {
	cfg, logg := bootstrap.Load("outbox-publisher")

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	bootstrap.Must(logg, "database", err)
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	bootstrap.Must(logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	publisher, err := connect.NewPublisher(context.Background(), cfg, logg)
	bootstrap.Must(logg, "broker publisher", err)
	defer bootstrap.CloseLogged(logg, "broker publisher", publisher.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.Topics)
	bootstrap.Must(logg, "event registry", err)

	promRegistry := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Publisher:     publisher,
		BrokerPing:    publisher.Ping,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(promRegistry),
	})
	bootstrap.Must(logg, "outbox publisher", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "broker", cfg.Broker.Kind)

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, promRegistry); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
