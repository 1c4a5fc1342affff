package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/inbox"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error)
}

type inboxStore interface {
	Find(tx *gorm.DB, eventID uuid.UUID) (*models.ProcessedEvent, error)
	MarkProcessed(tx *gorm.DB, rec inbox.Record) error
}

// Command is one saga instruction against a single account.
type Command struct {
	// EventID is the triggering event; uuid.Nil skips the inbox.
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	Payload       json.RawMessage
	PaymentID     uuid.UUID
	AccountNumber string
	Amount        decimal.Decimal
	Currency      string
}

// Outcome is what the engine decided. It is stored with the inbox row so a
// redelivery returns the same answer.
type Outcome struct {
	Result           enums.LedgerResult    `json:"result"`
	NewBalance       *decimal.Decimal      `json:"new_balance,omitempty"`
	EmittedEventID   uuid.UUID             `json:"emitted_event_id"`
	EmittedEventType enums.OutboxEventType `json:"emitted_event_type,omitempty"`
	Replayed         bool                  `json:"-"`
}

type operation struct {
	name      string
	entryType enums.LedgerEntryType
	okEvent   enums.OutboxEventType
	failEvent enums.OutboxEventType
	debit     bool
}

var (
	opDebit = operation{
		name:      "debit",
		entryType: enums.LedgerEntryDebit,
		okEvent:   enums.EventSenderDebited,
		failEvent: enums.EventDebitFailed,
		debit:     true,
	}
	opCredit = operation{
		name:      "credit",
		entryType: enums.LedgerEntryCredit,
		okEvent:   enums.EventReceiverCredited,
		failEvent: enums.EventCreditFailed,
	}
	opRefund = operation{
		name:      "refund",
		entryType: enums.LedgerEntryRefund,
		okEvent:   enums.EventCompensatePayment,
		failEvent: enums.EventCompensationFailed,
	}
)

// Engine applies saga debits, credits and refunds to the ledger. Each call
// runs in one transaction that covers the inbox check, the balance change,
// the journal entry and exactly one outbox event.
type Engine struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	inbox   inboxStore
	logg    *logger.Logger
	metrics *metrics.SagaMetrics
}

func NewEngine(repo Repository, tx txRunner, outbox outboxPublisher, inbox inboxStore, logg *logger.Logger, m *metrics.SagaMetrics) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Engine{repo: repo, tx: tx, outbox: outbox, inbox: inbox, logg: logg, metrics: m}, nil
}

// Debit withdraws the amount from the sender for a payment.
func (e *Engine) Debit(ctx context.Context, cmd Command) (*Outcome, error) {
	return e.apply(ctx, opDebit, cmd)
}

// Credit deposits the amount to the receiver for a payment.
func (e *Engine) Credit(ctx context.Context, cmd Command) (*Outcome, error) {
	return e.apply(ctx, opCredit, cmd)
}

// CompensateCredit refunds a debited sender after the receiver credit failed.
func (e *Engine) CompensateCredit(ctx context.Context, cmd Command) (*Outcome, error) {
	return e.apply(ctx, opRefund, cmd)
}

func (e *Engine) apply(ctx context.Context, op operation, cmd Command) (*Outcome, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"operation":  op.name,
		"payment_id": cmd.PaymentID.String(),
		"account":    cmd.AccountNumber,
		"event_id":   cmd.EventID.String(),
	})

	var outcome *Outcome
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		outcome = nil
		if cmd.EventID != uuid.Nil {
			stored, err := e.storedOutcome(tx, cmd.EventID)
			if err != nil {
				return err
			}
			if stored != nil {
				outcome = stored
				return nil
			}
		}

		result, err := e.mutate(logCtx, tx, op, cmd)
		if err != nil {
			return err
		}

		if cmd.EventID != uuid.Nil {
			if err := e.inbox.MarkProcessed(tx, inbox.Record{
				EventID:   cmd.EventID,
				EventType: string(cmd.EventType),
				Payload:   cmd.Payload,
				Outcome:   result,
			}); err != nil {
				return err
			}
		}
		outcome = result
		return nil
	})
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		return e.replay(ctx, cmd.EventID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("ledger %s failed", op.name))
	}

	if outcome.Replayed {
		e.logg.Info(logCtx, "ledger command already applied")
		return outcome, nil
	}
	e.metrics.IncLedgerOutcome(op.name, string(outcome.Result))
	e.logg.Info(e.logg.WithField(logCtx, "result", outcome.Result), "ledger command applied")
	return outcome, nil
}

func (e *Engine) mutate(ctx context.Context, tx *gorm.DB, op operation, cmd Command) (*Outcome, error) {
	repo := e.repo.WithTx(tx)

	account, err := repo.FindByNumberForUpdate(ctx, cmd.AccountNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return e.reject(ctx, tx, op, cmd, enums.LedgerResultAccountNotFound, fmt.Sprintf("account %s not found", cmd.AccountNumber))
	}
	if err != nil {
		return nil, err
	}

	// the journal is keyed by (payment, entry type); a second command for the
	// same step under a different event id changes nothing
	existing, err := repo.FindEntry(ctx, cmd.PaymentID, op.entryType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		balance := existing.BalanceAfter
		e.logg.Warn(ctx, "ledger entry already exists for payment step")
		return &Outcome{Result: enums.LedgerResultOK, NewBalance: &balance}, nil
	}

	newBalance := account.Balance.Add(cmd.Amount)
	if op.debit {
		if account.Balance.LessThan(cmd.Amount) {
			return e.reject(ctx, tx, op, cmd, enums.LedgerResultInsufficientFunds,
				fmt.Sprintf("balance %s is below %s", account.Balance.StringFixed(2), cmd.Amount.StringFixed(2)))
		}
		newBalance = account.Balance.Sub(cmd.Amount)
	}

	if err := repo.UpdateBalance(ctx, account.ID, newBalance); err != nil {
		return nil, err
	}
	paymentID := cmd.PaymentID
	if err := repo.CreateEntry(ctx, &models.LedgerEntry{
		AccountID:    account.ID,
		PaymentID:    &paymentID,
		EntryType:    op.entryType,
		Amount:       cmd.Amount,
		BalanceAfter: newBalance,
	}); err != nil {
		return nil, err
	}

	eventID, err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     op.okEvent,
		AggregateType: enums.AggregatePayment,
		AggregateID:   cmd.PaymentID,
		CausationID:   causation(cmd.EventID),
		Data:          successPayload(op, cmd, newBalance),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Result:           enums.LedgerResultOK,
		NewBalance:       &newBalance,
		EmittedEventID:   eventID,
		EmittedEventType: op.okEvent,
	}, nil
}

// reject writes the failure event; the account is left as it was.
func (e *Engine) reject(ctx context.Context, tx *gorm.DB, op operation, cmd Command, result enums.LedgerResult, reason string) (*Outcome, error) {
	eventID, err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     op.failEvent,
		AggregateType: enums.AggregatePayment,
		AggregateID:   cmd.PaymentID,
		CausationID:   causation(cmd.EventID),
		Data: payloads.LedgerFailureEvent{
			PaymentID:     cmd.PaymentID,
			AccountNumber: cmd.AccountNumber,
			Amount:        cmd.Amount,
			Currency:      cmd.Currency,
			Code:          string(result),
			Reason:        reason,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Result:           result,
		EmittedEventID:   eventID,
		EmittedEventType: op.failEvent,
	}, nil
}

func (e *Engine) storedOutcome(tx *gorm.DB, eventID uuid.UUID) (*Outcome, error) {
	row, err := e.inbox.Find(tx, eventID)
	if err != nil || row == nil {
		return nil, err
	}
	outcome := &Outcome{}
	if len(row.Outcome) > 0 {
		if err := json.Unmarshal(row.Outcome, outcome); err != nil {
			return nil, fmt.Errorf("decode stored outcome: %w", err)
		}
	}
	outcome.Replayed = true
	return outcome, nil
}

// replay reads the outcome a concurrent consumer committed first.
func (e *Engine) replay(ctx context.Context, eventID uuid.UUID) (*Outcome, error) {
	var outcome *Outcome
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		stored, err := e.storedOutcome(tx, eventID)
		outcome = stored
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load replayed outcome")
	}
	if outcome == nil {
		return nil, fmt.Errorf("event %s reported processed but no inbox row found", eventID)
	}
	return outcome, nil
}

func (c Command) validate() error {
	if c.PaymentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if strings.TrimSpace(c.AccountNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account number is required")
	}
	if !c.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return nil
}

func successPayload(op operation, cmd Command, balance decimal.Decimal) any {
	switch op.entryType {
	case enums.LedgerEntryDebit:
		return payloads.SenderDebitedEvent{
			PaymentID:     cmd.PaymentID,
			AccountNumber: cmd.AccountNumber,
			Amount:        cmd.Amount,
			Currency:      cmd.Currency,
			NewBalance:    balance,
		}
	case enums.LedgerEntryCredit:
		return payloads.ReceiverCreditedEvent{
			PaymentID:     cmd.PaymentID,
			AccountNumber: cmd.AccountNumber,
			Amount:        cmd.Amount,
			Currency:      cmd.Currency,
			NewBalance:    balance,
		}
	default:
		return payloads.CompensatePaymentEvent{
			PaymentID:     cmd.PaymentID,
			AccountNumber: cmd.AccountNumber,
			Amount:        cmd.Amount,
			Currency:      cmd.Currency,
			NewBalance:    balance,
		}
	}
}

func causation(eventID uuid.UUID) *uuid.UUID {
	if eventID == uuid.Nil {
		return nil
	}
	id := eventID
	return &id
}
