package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/internal/consumers"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

type sagaApplier interface {
	Apply(ctx context.Context, event InboundEvent) (*Transition, error)
}

// Handler feeds ledger replies into the saga.
type Handler struct {
	saga sagaApplier
	logg *logger.Logger
}

func NewHandler(saga sagaApplier, logg *logger.Logger) (*Handler, error) {
	if saga == nil {
		return nil, fmt.Errorf("saga required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handler{saga: saga, logg: logg}, nil
}

// EventTypes lists the ledger replies the payments service consumes.
func (h *Handler) EventTypes() []enums.OutboxEventType {
	return []enums.OutboxEventType{
		enums.EventSenderDebited,
		enums.EventDebitFailed,
		enums.EventReceiverCredited,
		enums.EventCreditFailed,
		enums.EventCompensatePayment,
		enums.EventCompensationFailed,
	}
}

func (h *Handler) Handle(ctx context.Context, event consumers.Event) error {
	if !Handles(event.Type) {
		return fmt.Errorf("%w: %s", consumers.ErrUnsupportedEvent, event.Type)
	}
	paymentID, reason, ok := paymentRef(event.Payload)
	if !ok {
		return fmt.Errorf("%w: payload %T for %s", consumers.ErrUnsupportedEvent, event.Payload, event.Type)
	}
	_, err := h.saga.Apply(ctx, InboundEvent{
		EventID:       event.ID,
		EventType:     event.Type,
		PaymentID:     paymentID,
		Payload:       json.RawMessage(event.Body),
		FailureReason: reason,
	})
	return err
}

func paymentRef(payload any) (uuid.UUID, string, bool) {
	switch p := payload.(type) {
	case *payloads.SenderDebitedEvent:
		return p.PaymentID, "", true
	case *payloads.ReceiverCreditedEvent:
		return p.PaymentID, "", true
	case *payloads.CompensatePaymentEvent:
		return p.PaymentID, "", true
	case *payloads.LedgerFailureEvent:
		return p.PaymentID, failureReason(p), true
	default:
		return uuid.Nil, "", false
	}
}

func failureReason(p *payloads.LedgerFailureEvent) string {
	parts := make([]string, 0, 2)
	if code := strings.TrimSpace(p.Code); code != "" {
		parts = append(parts, code)
	}
	if reason := strings.TrimSpace(p.Reason); reason != "" {
		parts = append(parts, reason)
	}
	return strings.Join(parts, ": ")
}
