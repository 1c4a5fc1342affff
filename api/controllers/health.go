package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	envHeader         = "X-Paysaga-Env"
	readyProbeTimeout = 2 * time.Second
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{
			"status":  "live",
			"service": cfg.Service.Kind,
		})
	}
}

// HealthReady pings every named dependency and answers 503 naming the first
// one that fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not ready").
					WithDetails(map[string]string{"dependency": name}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{
			"status":  "ready",
			"service": cfg.Service.Kind,
		})
	}
}
