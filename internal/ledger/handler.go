package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/paysaga-backend/internal/consumers"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

type engine interface {
	Debit(ctx context.Context, cmd Command) (*Outcome, error)
	Credit(ctx context.Context, cmd Command) (*Outcome, error)
	CompensateCredit(ctx context.Context, cmd Command) (*Outcome, error)
}

// Handler routes saga commands from the payments service into the engine.
type Handler struct {
	engine engine
	logg   *logger.Logger
}

func NewHandler(engine engine, logg *logger.Logger) (*Handler, error) {
	if engine == nil {
		return nil, fmt.Errorf("ledger engine required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handler{engine: engine, logg: logg}, nil
}

// EventTypes lists the commands the accounts service consumes.
func (h *Handler) EventTypes() []enums.OutboxEventType {
	return []enums.OutboxEventType{
		enums.EventPaymentInitiated,
		enums.EventReceiverCreditRequested,
		enums.EventCompensatePaymentRequested,
	}
}

func (h *Handler) Handle(ctx context.Context, event consumers.Event) error {
	base := Command{
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   json.RawMessage(event.Body),
	}

	var (
		outcome *Outcome
		err     error
	)
	switch payload := event.Payload.(type) {
	case *payloads.PaymentInitiatedEvent:
		cmd := base
		cmd.PaymentID = payload.PaymentID
		cmd.AccountNumber = payload.SenderAccount
		cmd.Amount = payload.Amount
		cmd.Currency = payload.Currency
		outcome, err = h.engine.Debit(ctx, cmd)
	case *payloads.ReceiverCreditRequestedEvent:
		cmd := base
		cmd.PaymentID = payload.PaymentID
		cmd.AccountNumber = payload.ReceiverAccount
		cmd.Amount = payload.Amount
		cmd.Currency = payload.Currency
		outcome, err = h.engine.Credit(ctx, cmd)
	case *payloads.CompensatePaymentRequestedEvent:
		cmd := base
		cmd.PaymentID = payload.PaymentID
		cmd.AccountNumber = payload.SenderAccount
		cmd.Amount = payload.Amount
		cmd.Currency = payload.Currency
		outcome, err = h.engine.CompensateCredit(ctx, cmd)
	default:
		return fmt.Errorf("%w: %s", consumers.ErrUnsupportedEvent, event.Type)
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			h.logg.Error(ctx, "rejecting malformed ledger command", err)
		}
		return err
	}

	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"result":       outcome.Result,
		"emitted_type": outcome.EmittedEventType,
		"replayed":     outcome.Replayed,
	}), "ledger command handled")
	return nil
}
