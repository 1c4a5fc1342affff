package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

// payloadSchemaVersion is the only envelope version currently emitted.
const payloadSchemaVersion = 1

// EventDescriptor links an event type to its aggregate, topic and payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry is the dispatcher's routing table. It is built once at
// startup and read-only afterwards.
type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

// NonRetryableError means the row can never publish as stored. Reason is
// recorded in the quarantine ledger.
type NonRetryableError struct {
	Err    error
	Reason enums.OutboxDLQErrorReason
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(reason enums.OutboxDLQErrorReason, err error) NonRetryableError {
	return NonRetryableError{Err: err, Reason: reason}
}

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes every saga event to its own topic, keyed by
// payment, and every account event to the shared activity topic, keyed by
// account. Any unset topic is an error.
func NewEventRegistry(topics config.TopicsConfig) (*EventRegistry, error) {
	saga := []EventDescriptor{
		{EventType: enums.EventPaymentInitiated, Topic: topics.PaymentInitiated, PayloadFactory: payloadOf[payloads.PaymentInitiatedEvent]()},
		{EventType: enums.EventSenderDebited, Topic: topics.SenderDebited, PayloadFactory: payloadOf[payloads.SenderDebitedEvent]()},
		{EventType: enums.EventDebitFailed, Topic: topics.DebitFailed, PayloadFactory: payloadOf[payloads.DebitFailedEvent]()},
		{EventType: enums.EventReceiverCreditRequested, Topic: topics.ReceiverCreditRequested, PayloadFactory: payloadOf[payloads.ReceiverCreditRequestedEvent]()},
		{EventType: enums.EventReceiverCredited, Topic: topics.ReceiverCredited, PayloadFactory: payloadOf[payloads.ReceiverCreditedEvent]()},
		{EventType: enums.EventCreditFailed, Topic: topics.CreditFailed, PayloadFactory: payloadOf[payloads.CreditFailedEvent]()},
		{EventType: enums.EventCompensatePaymentRequested, Topic: topics.CompensatePaymentRequested, PayloadFactory: payloadOf[payloads.CompensatePaymentRequestedEvent]()},
		{EventType: enums.EventCompensatePayment, Topic: topics.CompensatePayment, PayloadFactory: payloadOf[payloads.CompensatePaymentEvent]()},
		{EventType: enums.EventCompensationFailed, Topic: topics.CompensationFailed, PayloadFactory: payloadOf[payloads.CompensationFailedEvent]()},
		{EventType: enums.EventPaymentCompleted, Topic: topics.PaymentCompleted, PayloadFactory: payloadOf[payloads.PaymentCompletedEvent]()},
	}
	var account []EventDescriptor
	for _, eventType := range []enums.OutboxEventType{enums.EventAccountOpened, enums.EventAccountDeposited, enums.EventAccountWithdrawn} {
		account = append(account, EventDescriptor{
			EventType:      eventType,
			AggregateType:  enums.AggregateAccount,
			Topic:          topics.AccountActivity,
			PayloadFactory: payloadOf[payloads.AccountActivityEvent](),
		})
	}

	reg := &EventRegistry{
		entries:  make(map[enums.OutboxEventType]EventDescriptor, len(saga)+len(account)),
		decoders: NewDecoderRegistry(),
	}
	for _, desc := range saga {
		desc.AggregateType = enums.AggregatePayment
		if err := reg.add(desc); err != nil {
			return nil, err
		}
	}
	for _, desc := range account {
		if err := reg.add(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *EventRegistry) add(desc EventDescriptor) error {
	if desc.Topic == "" {
		return fmt.Errorf("topic for %s is required", desc.EventType)
	}
	r.entries[desc.EventType] = desc
	r.decoders.Register(desc.EventType, payloadSchemaVersion, JSONInto(desc.PayloadFactory))
	return nil
}

// Topic returns "" for unknown event types.
func (r *EventRegistry) Topic(eventType enums.OutboxEventType) string {
	return r.entries[eventType].Topic
}

// Decoders returns the consumer-side view of the same table.
func (r *EventRegistry) Decoders() *DecoderRegistry {
	return r.decoders
}

// Resolve checks the row's routing fields against its descriptor and decodes
// the envelope and payload. Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(enums.OutboxDLQReasonUnrecognizedType, fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, serializationError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, serializationError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, serializationError(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if errors.Is(err, ErrNoDecoder) {
		return nil, NewNonRetryableError(enums.OutboxDLQReasonUnrecognizedType, err)
	}
	if err != nil {
		return nil, serializationError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func serializationError(err error) NonRetryableError {
	return NewNonRetryableError(enums.OutboxDLQReasonSerializationFailure, err)
}

// Message builds the broker record for a resolved row. The stored envelope is
// the body and the aggregate id is the ordering key.
func (e *ResolvedEvent) Message(row models.OutboxEvent) broker.Message {
	aggregateID := row.AggregateID.String()
	return broker.Message{
		Topic: e.Descriptor.Topic,
		Key:   aggregateID,
		Data:  row.Payload,
		Attributes: map[string]string{
			broker.AttrEventID:       row.ID.String(),
			broker.AttrEventType:     string(row.EventType),
			broker.AttrAggregateType: string(row.AggregateType),
			broker.AttrAggregateID:   aggregateID,
			broker.AttrCreatedAt:     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
