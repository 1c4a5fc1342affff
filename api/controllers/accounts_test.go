package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysaga-backend/internal/ledger"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

type stubLedgerService struct {
	account     *models.Account
	entries     []models.LedgerEntry
	err         error
	opened      ledger.OpenAccountInput
	lastNumber  string
	lastAmount  decimal.Decimal
	withdrawals int
	deposits    int
}

func (s *stubLedgerService) OpenAccount(_ context.Context, input ledger.OpenAccountInput) (*models.Account, error) {
	s.opened = input
	return s.account, s.err
}

func (s *stubLedgerService) GetAccount(_ context.Context, accountNumber string) (*models.Account, error) {
	s.lastNumber = accountNumber
	return s.account, s.err
}

func (s *stubLedgerService) GetAccountByID(_ context.Context, _ uuid.UUID) (*models.Account, error) {
	return s.account, s.err
}

func (s *stubLedgerService) Deposit(_ context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	s.deposits++
	s.lastNumber, s.lastAmount = accountNumber, amount
	return s.account, s.err
}

func (s *stubLedgerService) Withdraw(_ context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	s.withdrawals++
	s.lastNumber, s.lastAmount = accountNumber, amount
	return s.account, s.err
}

func (s *stubLedgerService) ListEntries(_ context.Context, accountNumber string, _ int) ([]models.LedgerEntry, error) {
	s.lastNumber = accountNumber
	return s.entries, s.err
}

func sampleAccount() *models.Account {
	return &models.Account{
		ID:            uuid.New(),
		AccountNumber: "ACC-1",
		OwnerRef:      "owner-1",
		Balance:       decimal.RequireFromString("25.50"),
	}
}

func TestAccountCreate(t *testing.T) {
	svc := &stubLedgerService{account: sampleAccount()}
	body := `{"accountNumber":" ACC-1 ","ownerRef":"owner-1","openingBalance":"25.50"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(body))
	rec := httptest.NewRecorder()

	AccountCreate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.opened.AccountNumber != "ACC-1" {
		t.Fatalf("expected trimmed account number, got %q", svc.opened.AccountNumber)
	}
	var envelope struct {
		Data accountDTO `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Balance.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected balance %s", envelope.Data.Balance)
	}
}

func TestAccountCreateValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", strings.NewReader(`{"ownerRef":"o"}`))
	rec := httptest.NewRecorder()

	AccountCreate(&stubLedgerService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAccountGetNotFound(t *testing.T) {
	svc := &stubLedgerService{err: pkgerrors.New(pkgerrors.CodeNotFound, "account not found")}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/ACC-9", nil), "accountNumber", "ACC-9")
	rec := httptest.NewRecorder()

	AccountGet(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if svc.lastNumber != "ACC-9" {
		t.Fatalf("unexpected account number %q", svc.lastNumber)
	}
}

func TestAccountEntries(t *testing.T) {
	paymentID := uuid.New()
	svc := &stubLedgerService{entries: []models.LedgerEntry{
		{ID: uuid.New(), PaymentID: &paymentID, EntryType: enums.LedgerEntryDebit, Amount: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(20)},
	}}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/ACC-1/entries", nil), "accountNumber", "ACC-1")
	rec := httptest.NewRecorder()

	AccountEntries(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data []ledgerEntryDTO `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].PaymentID == nil || *envelope.Data[0].PaymentID != paymentID {
		t.Fatalf("unexpected entries %+v", envelope.Data)
	}
}

func TestAccountDepositAndWithdraw(t *testing.T) {
	svc := &stubLedgerService{account: sampleAccount()}

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/accounts/ACC-1/deposit", strings.NewReader(`{"amount":"3.25"}`)), "accountNumber", "ACC-1")
	rec := httptest.NewRecorder()
	AccountDeposit(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200 got %d", rec.Code)
	}

	req = withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/accounts/ACC-1/withdraw", strings.NewReader(`{"amount":"1"}`)), "accountNumber", "ACC-1")
	rec = httptest.NewRecorder()
	AccountWithdraw(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200 got %d", rec.Code)
	}

	if svc.deposits != 1 || svc.withdrawals != 1 {
		t.Fatalf("expected one of each, got deposits=%d withdrawals=%d", svc.deposits, svc.withdrawals)
	}
	if !svc.lastAmount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("unexpected amount %s", svc.lastAmount)
	}
}

func TestAccountWithdrawInsufficientFunds(t *testing.T) {
	svc := &stubLedgerService{err: pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds")}
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/accounts/ACC-1/withdraw", strings.NewReader(`{"amount":"100"}`)), "accountNumber", "ACC-1")
	rec := httptest.NewRecorder()

	AccountWithdraw(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}
