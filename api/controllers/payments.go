package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	"github.com/angelmondragon/paysaga-backend/api/validators"
	"github.com/angelmondragon/paysaga-backend/internal/payments"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	defaultListLimit     = 50
	maxListLimit         = 500
)

type paymentCreateRequest struct {
	SenderAccount   string          `json:"senderAccount" validate:"required,max=64"`
	ReceiverAccount string          `json:"receiverAccount" validate:"required,max=64"`
	Amount          decimal.Decimal `json:"amount" validate:"money"`
	Currency        string          `json:"currency" validate:"required,iso4217"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty" validate:"max=255"`
}

// PaymentCreate starts a transfer. The body key wins over the Idempotency-Key
// header; a repeated key answers 200 with the payment it created first.
func PaymentCreate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var req paymentCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(req.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		}
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required").
				WithDetails(map[string]string{"idempotencyKey": "is required"}))
			return
		}

		payment, created, err := svc.InitiatePayment(r.Context(), payments.InitiatePaymentInput{
			SenderAccount:   req.SenderAccount,
			ReceiverAccount: req.ReceiverAccount,
			Amount:          req.Amount,
			Currency:        req.Currency,
			IdempotencyKey:  key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, payment)
	}
}

func PaymentGet(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "paymentId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		details, err := svc.GetPayment(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

// OpsPaymentsList lists payments by status for operators, oldest first.
func OpsPaymentsList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParsePaymentStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByStatus(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []models.Payment{}
		}
		responses.WriteSuccess(w, list)
	}
}
