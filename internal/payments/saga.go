package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// ErrOutOfOrder means the event arrived before the step it depends on. The
// transaction is rolled back and the message redelivered later.
var ErrOutOfOrder = errors.New("saga event arrived out of order")

type inboxStore interface {
	Find(tx *gorm.DB, eventID uuid.UUID) (*models.ProcessedEvent, error)
	MarkProcessed(tx *gorm.DB, rec inbox.Record) error
}

// InboundEvent is a ledger reply addressed to one payment.
type InboundEvent struct {
	EventID   uuid.UUID
	EventType enums.OutboxEventType
	PaymentID uuid.UUID
	Payload   json.RawMessage
	// FailureReason is set for DebitFailed, CreditFailed and CompensationFailed.
	FailureReason string
}

// Transition describes what Apply did. Applied is false for duplicates,
// stale events and events for finished payments.
type Transition struct {
	PaymentID      uuid.UUID             `json:"payment_id"`
	From           enums.PaymentStatus   `json:"from"`
	To             enums.PaymentStatus   `json:"to"`
	Applied        bool                  `json:"applied"`
	EmittedEventID uuid.UUID             `json:"emitted_event_id"`
	EmittedType    enums.OutboxEventType `json:"emitted_type,omitempty"`
	Note           string                `json:"note,omitempty"`
	Replayed       bool                  `json:"-"`
}

type sagaStep struct {
	source enums.PaymentStatus
	// path lists every status entered, in order; the last one is the target.
	path        []enums.PaymentStatus
	emits       enums.OutboxEventType
	compensated bool
	failure     bool
}

func (s sagaStep) target() enums.PaymentStatus {
	return s.path[len(s.path)-1]
}

var sagaSteps = map[enums.OutboxEventType]sagaStep{
	enums.EventSenderDebited: {
		source: enums.PaymentStatusInitiated,
		path:   []enums.PaymentStatus{enums.PaymentStatusSenderDebited},
		emits:  enums.EventReceiverCreditRequested,
	},
	enums.EventDebitFailed: {
		source:  enums.PaymentStatusInitiated,
		path:    []enums.PaymentStatus{enums.PaymentStatusDebitFailed},
		failure: true,
	},
	enums.EventReceiverCredited: {
		source: enums.PaymentStatusSenderDebited,
		path:   []enums.PaymentStatus{enums.PaymentStatusReceiverCredited, enums.PaymentStatusCompleted},
		emits:  enums.EventPaymentCompleted,
	},
	enums.EventCreditFailed: {
		source:  enums.PaymentStatusSenderDebited,
		path:    []enums.PaymentStatus{enums.PaymentStatusCreditFailed},
		emits:   enums.EventCompensatePaymentRequested,
		failure: true,
	},
	enums.EventCompensatePayment: {
		source:      enums.PaymentStatusCreditFailed,
		path:        []enums.PaymentStatus{enums.PaymentStatusCompleted},
		emits:       enums.EventPaymentCompleted,
		compensated: true,
	},
	enums.EventCompensationFailed: {
		source:  enums.PaymentStatusCreditFailed,
		path:    []enums.PaymentStatus{enums.PaymentStatusManualIntervention},
		failure: true,
	},
}

// Saga is the payment state machine driven by ledger replies.
type Saga struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	inbox   inboxStore
	logg    *logger.Logger
	metrics *metrics.SagaMetrics
	now     func() time.Time
}

func NewSaga(repo Repository, tx txRunner, outbox outboxPublisher, inbox inboxStore, logg *logger.Logger, m *metrics.SagaMetrics) (*Saga, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
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
	return &Saga{repo: repo, tx: tx, outbox: outbox, inbox: inbox, logg: logg, metrics: m, now: time.Now}, nil
}

// Handles reports whether eventType drives the saga.
func Handles(eventType enums.OutboxEventType) bool {
	_, ok := sagaSteps[eventType]
	return ok
}

// Apply advances the payment named by event. The inbox row, the status
// change, the audit rows and any follow-up command commit together.
func (s *Saga) Apply(ctx context.Context, event InboundEvent) (*Transition, error) {
	step, ok := sagaSteps[event.EventType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("event type %s does not drive the payment saga", event.EventType))
	}
	if event.EventID == uuid.Nil || event.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id and payment id are required")
	}
	logCtx := s.logg.WithEvent(ctx, event.EventID.String(), string(event.EventType), "")
	logCtx = s.logg.WithPaymentID(logCtx, event.PaymentID.String())

	var (
		result  *Transition
		missing bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		result, missing = nil, false
		stored, err := s.storedTransition(tx, event.EventID)
		if err != nil {
			return err
		}
		if stored != nil {
			result = stored
			return nil
		}

		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByIDForUpdate(logCtx, event.PaymentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			missing = true
			result = &Transition{PaymentID: event.PaymentID, Note: "payment not found"}
			return s.markProcessed(tx, event, result)
		}
		if err != nil {
			return err
		}

		result, err = s.advance(logCtx, tx, repo, payment, step, event)
		if err != nil {
			return err
		}
		return s.markProcessed(tx, event, result)
	})
	if errors.Is(err, inbox.ErrAlreadyProcessed) {
		s.logg.Info(logCtx, "saga event processed concurrently")
		return &Transition{PaymentID: event.PaymentID, Replayed: true}, nil
	}
	if errors.Is(err, ErrOutOfOrder) {
		return nil, err
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply saga event")
	}
	if missing {
		return result, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]string{"payment_id": event.PaymentID.String()})
	}

	switch {
	case result.Replayed:
		s.logg.Info(logCtx, "saga event already processed")
	case result.Applied:
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"from": result.From,
			"to":   result.To,
		}), "payment transitioned")
	default:
		s.logg.Info(s.logg.WithField(logCtx, "note", result.Note), "saga event acknowledged without change")
	}
	return result, nil
}

func (s *Saga) advance(ctx context.Context, tx *gorm.DB, repo Repository, payment *models.Payment, step sagaStep, event InboundEvent) (*Transition, error) {
	current := payment.Status
	target := step.target()
	noop := &Transition{PaymentID: payment.ID, From: current, To: current}

	if current.IsTerminal() {
		noop.Note = "payment already finished"
		return noop, nil
	}
	if current.Rank() >= target.Rank() {
		noop.Note = "payment already past this step"
		return noop, nil
	}
	if current != step.source {
		if current.Rank() < step.source.Rank() {
			return nil, fmt.Errorf("%w: payment %s is %s, event needs %s", ErrOutOfOrder, payment.ID, current, step.source)
		}
		noop.Note = fmt.Sprintf("payment is %s on another branch", current)
		return noop, nil
	}

	update := StateUpdate{Status: target}
	if step.compensated {
		compensated := true
		update.Compensated = &compensated
	}
	if step.failure && event.FailureReason != "" {
		reason := event.FailureReason
		update.FailureReason = &reason
	}
	if err := repo.UpdateState(ctx, payment.ID, update); err != nil {
		return nil, err
	}

	eventID := event.EventID
	now := s.now().UTC()
	transitions := make([]models.PaymentTransition, 0, len(step.path))
	from := current
	for i, to := range step.path {
		transitions = append(transitions, models.PaymentTransition{
			PaymentID:  payment.ID,
			FromStatus: from,
			ToStatus:   to,
			EventID:    &eventID,
			EventType:  string(event.EventType),
			CreatedAt:  now.Add(time.Duration(i) * time.Microsecond),
		})
		from = to
	}
	if err := repo.CreateTransitions(ctx, transitions); err != nil {
		return nil, err
	}
	for _, tr := range transitions {
		s.metrics.IncTransition(string(tr.FromStatus), string(tr.ToStatus))
	}

	result := &Transition{PaymentID: payment.ID, From: current, To: target, Applied: true}
	if step.emits == "" {
		return result, nil
	}
	payment.Status = target
	if step.compensated {
		payment.Compensated = true
	}
	emittedID, err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     step.emits,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		CausationID:   &eventID,
		Data:          followUpPayload(step.emits, payment, event.FailureReason),
	})
	if err != nil {
		return nil, err
	}
	result.EmittedEventID = emittedID
	result.EmittedType = step.emits
	return result, nil
}

func followUpPayload(eventType enums.OutboxEventType, payment *models.Payment, reason string) any {
	switch eventType {
	case enums.EventReceiverCreditRequested:
		return payloads.ReceiverCreditRequestedEvent{
			PaymentID:       payment.ID,
			SenderAccount:   payment.SenderAccount,
			ReceiverAccount: payment.ReceiverAccount,
			Amount:          payment.Amount,
			Currency:        payment.Currency,
		}
	case enums.EventCompensatePaymentRequested:
		return payloads.CompensatePaymentRequestedEvent{
			PaymentID:     payment.ID,
			SenderAccount: payment.SenderAccount,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			Reason:        reason,
		}
	default:
		return payloads.PaymentCompletedEvent{
			PaymentID:   payment.ID,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
			Compensated: payment.Compensated,
		}
	}
}

func (s *Saga) markProcessed(tx *gorm.DB, event InboundEvent, result *Transition) error {
	return s.inbox.MarkProcessed(tx, inbox.Record{
		EventID:   event.EventID,
		EventType: string(event.EventType),
		Payload:   event.Payload,
		Outcome:   result,
	})
}

func (s *Saga) storedTransition(tx *gorm.DB, eventID uuid.UUID) (*Transition, error) {
	row, err := s.inbox.Find(tx, eventID)
	if err != nil || row == nil {
		return nil, err
	}
	stored := &Transition{}
	if len(row.Outcome) > 0 {
		if err := json.Unmarshal(row.Outcome, stored); err != nil {
			return nil, fmt.Errorf("decode stored transition: %w", err)
		}
	}
	stored.Replayed = true
	return stored, nil
}
