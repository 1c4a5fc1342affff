// Package consumers turns broker messages into typed domain events and feeds
// them to the service's handler with per-key ordering.
package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
)

// ErrUnsupportedEvent is returned by handlers for event types they do not own.
// The runner logs and acks such messages without recording them.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// Event is an inbound message after envelope and payload decoding.
type Event struct {
	ID          uuid.UUID
	Type        enums.OutboxEventType
	AggregateID uuid.UUID
	Envelope    outbox.PayloadEnvelope
	// Payload is a pointer to the registered payload struct for Type.
	Payload any
	Body    []byte
}

// Handler is implemented by each service's domain entry point.
type Handler interface {
	Handle(ctx context.Context, event Event) error
	EventTypes() []enums.OutboxEventType
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

// decodeMessage builds an Event from the envelope body and routing attributes.
func decodeMessage(msg broker.Message, decoders decoder) (Event, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	eventID, err := uuid.Parse(strings.TrimSpace(envelope.EventID))
	if err != nil {
		return Event{}, fmt.Errorf("parse event id %q: %w", envelope.EventID, err)
	}
	eventType, err := enums.ParseOutboxEventType(msg.Attr(broker.AttrEventType))
	if err != nil {
		return Event{}, err
	}
	event := Event{
		ID:       eventID,
		Type:     eventType,
		Envelope: envelope,
		Body:     msg.Data,
	}
	if raw := msg.Attr(broker.AttrAggregateID); raw != "" {
		if id, perr := uuid.Parse(raw); perr == nil {
			event.AggregateID = id
		}
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}
	payload, err := decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	event.Payload = payload
	return event, nil
}

// OrderingKey is the lane key for an event: its aggregate, else its id.
func (e Event) OrderingKey() string {
	if e.AggregateID != uuid.Nil {
		return e.AggregateID.String()
	}
	return e.ID.String()
}

// CausationID returns a pointer to the event id for chaining emitted events.
func (e Event) CausationID() *uuid.UUID {
	if e.ID == uuid.Nil {
		return nil
	}
	id := e.ID
	return &id
}
