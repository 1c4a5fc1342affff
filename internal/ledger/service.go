package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

// Service exposes direct account operations for the request layer.
type Service interface {
	OpenAccount(ctx context.Context, input OpenAccountInput) (*models.Account, error)
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error)
	Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error)
	ListEntries(ctx context.Context, accountNumber string, limit int) ([]models.LedgerEntry, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// OpenAccountInput describes a new account.
type OpenAccountInput struct {
	AccountNumber  string          `json:"accountNumber"`
	OwnerRef       string          `json:"ownerRef"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
}

// NewService wires the account service.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox}, nil
}

func (s *service) OpenAccount(ctx context.Context, input OpenAccountInput) (*models.Account, error) {
	number := strings.TrimSpace(input.AccountNumber)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account number is required")
	}
	if strings.TrimSpace(input.OwnerRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner reference is required")
	}
	if input.OpeningBalance.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "opening balance cannot be negative")
	}

	account := &models.Account{
		ID:            uuid.New(),
		AccountNumber: number,
		OwnerRef:      strings.TrimSpace(input.OwnerRef),
		Balance:       input.OpeningBalance,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateAccount(ctx, account); err != nil {
			return err
		}
		if err := repo.CreateEntry(ctx, &models.LedgerEntry{
			AccountID:    account.ID,
			EntryType:    enums.LedgerEntryOpening,
			Amount:       input.OpeningBalance,
			BalanceAfter: input.OpeningBalance,
		}); err != nil {
			return err
		}
		return s.emitActivity(ctx, tx, enums.EventAccountOpened, account, input.OpeningBalance)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "account number already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open account")
	}
	return account, nil
}

func (s *service) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	account, err := s.repo.FindByNumber(ctx, strings.TrimSpace(accountNumber))
	if err != nil {
		return nil, notFoundOr(err, "account")
	}
	return account, nil
}

func (s *service) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "account")
	}
	return account, nil
}

func (s *service) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	return s.adjust(ctx, accountNumber, amount, false)
}

func (s *service) Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal) (*models.Account, error) {
	return s.adjust(ctx, accountNumber, amount, true)
}

func (s *service) adjust(ctx context.Context, accountNumber string, amount decimal.Decimal, withdraw bool) (*models.Account, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	entryType, eventType := enums.LedgerEntryDeposit, enums.EventAccountDeposited
	if withdraw {
		entryType, eventType = enums.LedgerEntryWithdrawal, enums.EventAccountWithdrawn
	}

	var updated *models.Account
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindByNumberForUpdate(ctx, strings.TrimSpace(accountNumber))
		if err != nil {
			return notFoundOr(err, "account")
		}
		balance := account.Balance.Add(amount)
		if withdraw {
			if account.Balance.LessThan(amount) {
				return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
					WithDetails(map[string]string{"balance": account.Balance.StringFixed(2)})
			}
			balance = account.Balance.Sub(amount)
		}
		if err := repo.UpdateBalance(ctx, account.ID, balance); err != nil {
			return err
		}
		if err := repo.CreateEntry(ctx, &models.LedgerEntry{
			AccountID:    account.ID,
			EntryType:    entryType,
			Amount:       amount,
			BalanceAfter: balance,
		}); err != nil {
			return err
		}
		account.Balance = balance
		updated = account
		return s.emitActivity(ctx, tx, eventType, account, amount)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "adjust balance")
	}
	return updated, nil
}

func (s *service) ListEntries(ctx context.Context, accountNumber string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntriesLimit
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}
	account, err := s.repo.FindByNumber(ctx, strings.TrimSpace(accountNumber))
	if err != nil {
		return nil, notFoundOr(err, "account")
	}
	entries, err := s.repo.ListEntries(ctx, account.ID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return entries, nil
}

func (s *service) emitActivity(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, account *models.Account, amount decimal.Decimal) error {
	_, err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateAccount,
		AggregateID:   account.ID,
		Data: payloads.AccountActivityEvent{
			AccountID:     account.ID,
			AccountNumber: account.AccountNumber,
			Amount:        amount,
			NewBalance:    account.Balance,
		},
	})
	return err
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+what)
}
