package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/paysaga-backend/api/routes"
	"github.com/angelmondragon/paysaga-backend/internal/ledger"
	"github.com/angelmondragon/paysaga-backend/internal/payments"
	"github.com/angelmondragon/paysaga-backend/pkg/bootstrap"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/env"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/migrate"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, logg := bootstrap.Load("api")

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	bootstrap.Must(logg, "database", err)
	defer bootstrap.CloseLogged(logg, "database", dbClient.Close)

	bootstrap.Must(logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	bootstrap.Must(logg, "redis", err)
	defer bootstrap.CloseLogged(logg, "redis", redisClient.Close)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	params := routes.RouterParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Idempotency: redisClient,
		Quarantine:  outbox.NewQuarantine(dbClient, outboxRepo, outbox.NewDLQRepository(dbClient.DB())),
	}

	switch {
	case cfg.Service.IsPayments():
		params.Payments, err = payments.NewService(payments.NewRepository(dbClient.DB()), dbClient, outboxService, logg)
		bootstrap.Must(logg, "payments service", err)
	case cfg.Service.IsAccounts():
		params.Accounts, err = ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, outboxService)
		bootstrap.Must(logg, "account service", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	params.HTTPMetrics = metrics.NewHTTPMetrics(promRegistry)
	params.Metrics = metrics.Handler(promRegistry)

	addr := ":" + env.Get("PORT", cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "addr", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}
