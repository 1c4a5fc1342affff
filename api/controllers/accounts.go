package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysaga-backend/api/responses"
	"github.com/angelmondragon/paysaga-backend/api/validators"
	"github.com/angelmondragon/paysaga-backend/internal/ledger"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const maxAccountFieldLen = 64

type accountDTO struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	OwnerRef      string          `json:"ownerRef"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toAccountDTO(a *models.Account) accountDTO {
	return accountDTO{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		OwnerRef:      a.OwnerRef,
		Balance:       a.Balance,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type ledgerEntryDTO struct {
	ID           uuid.UUID             `json:"id"`
	PaymentID    *uuid.UUID            `json:"paymentId,omitempty"`
	EntryType    enums.LedgerEntryType `json:"entryType"`
	Amount       decimal.Decimal       `json:"amount"`
	BalanceAfter decimal.Decimal       `json:"balanceAfter"`
	CreatedAt    time.Time             `json:"createdAt"`
}

type accountCreateRequest struct {
	AccountNumber  string          `json:"accountNumber" validate:"required,max=64"`
	OwnerRef       string          `json:"ownerRef" validate:"required,max=128"`
	OpeningBalance decimal.Decimal `json:"openingBalance" validate:"money_nonneg"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"money"`
}

func AccountCreate(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		var req accountCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.OpenAccount(r.Context(), ledger.OpenAccountInput{
			AccountNumber:  validators.SanitizeString(req.AccountNumber, maxAccountFieldLen),
			OwnerRef:       validators.SanitizeString(req.OwnerRef, 128),
			OpeningBalance: req.OpeningBalance,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toAccountDTO(account))
	}
}

func AccountGet(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}
		account, err := svc.GetAccount(r.Context(), accountNumberParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAccountDTO(account))
	}
}

// AccountEntries returns the ledger journal for one account, newest first.
func AccountEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := svc.ListEntries(r.Context(), accountNumberParam(r), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]ledgerEntryDTO, 0, len(entries))
		for _, e := range entries {
			out = append(out, ledgerEntryDTO{
				ID:           e.ID,
				PaymentID:    e.PaymentID,
				EntryType:    e.EntryType,
				Amount:       e.Amount,
				BalanceAfter: e.BalanceAfter,
				CreatedAt:    e.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func AccountDeposit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return balanceMutation(svc, logg, false)
}

func AccountWithdraw(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return balanceMutation(svc, logg, true)
}

func balanceMutation(svc ledger.Service, logg *logger.Logger, withdraw bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		var req amountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		apply := svc.Deposit
		if withdraw {
			apply = svc.Withdraw
		}
		account, err := apply(r.Context(), accountNumberParam(r), req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAccountDTO(account))
	}
}

func accountNumberParam(r *http.Request) string {
	return validators.SanitizeString(chi.URLParam(r, "accountNumber"), maxAccountFieldLen)
}
