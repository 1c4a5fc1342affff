package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paysaga-backend/api/controllers"
	"github.com/angelmondragon/paysaga-backend/api/middleware"
	"github.com/angelmondragon/paysaga-backend/internal/ledger"
	"github.com/angelmondragon/paysaga-backend/internal/payments"
	pkgAuth "github.com/angelmondragon/paysaga-backend/pkg/auth"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
)

// RouterParams carries what the API needs for either service kind. Only the
// service matching Config.Service.Kind has to be set.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency middleware.ResponseStore
	Payments    payments.Service
	Accounts    ledger.Service
	Quarantine  controllers.OutboxQuarantine
	Metrics     http.Handler
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Metrics(p.HTTPMetrics),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    p.Redis,
		}))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		switch {
		case cfg.Service.IsPayments():
			r.Route("/payments", func(r chi.Router) {
				r.Post("/", controllers.PaymentCreate(p.Payments, logg))
				r.Get("/{paymentId}", controllers.PaymentGet(p.Payments, logg))
			})
		case cfg.Service.IsAccounts():
			idempotent := middleware.Idempotency(p.Idempotency, cfg.App.IdempotencyTTL, logg)
			r.Route("/accounts", func(r chi.Router) {
				r.Post("/", controllers.AccountCreate(p.Accounts, logg))
				r.Get("/{accountNumber}", controllers.AccountGet(p.Accounts, logg))
				r.Get("/{accountNumber}/entries", controllers.AccountEntries(p.Accounts, logg))
				r.With(idempotent).Post("/{accountNumber}/deposit", controllers.AccountDeposit(p.Accounts, logg))
				r.With(idempotent).Post("/{accountNumber}/withdraw", controllers.AccountWithdraw(p.Accounts, logg))
			})
		}

		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, pkgAuth.RoleOperator))

			r.Get("/outbox/dlq", controllers.OutboxDLQList(p.Quarantine, logg))
			r.Post("/outbox/dlq/{eventId}/requeue", controllers.OutboxDLQRequeue(p.Quarantine, logg))
			if cfg.Service.IsPayments() {
				r.Get("/payments", controllers.OpsPaymentsList(p.Payments, logg))
			}
		})
	})

	return r
}
