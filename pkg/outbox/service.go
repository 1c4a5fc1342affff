package outbox

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
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const envelopeVersion = 1

// DomainEvent is what a state change hands to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	// CausationID is the inbound event that led to this one, when any.
	CausationID *uuid.UUID
	Data        any
	Version     int
	OccurredAt  time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stages event inside tx and returns its id, which is both the outbox
// row id and the envelope's eventId. The row only becomes visible to the
// dispatcher when tx commits together with the state change behind it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errTxRequired
	}
	if event.AggregateID == uuid.Nil {
		return uuid.Nil, errors.New("aggregate id required")
	}
	row, err := s.stage(event)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return uuid.Nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithEvent(ctx, row.ID.String(), string(row.EventType), row.AggregateID.String())
		s.logg.Debug(s.logg.WithField(logCtx, "aggregate_type", row.AggregateType), "outbox event queued")
	}
	return row.ID, nil
}

func (s *Service) stage(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	version := event.Version
	if version == 0 {
		version = envelopeVersion
	}

	id := uuid.New()
	envelope := PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}
	if event.CausationID != nil {
		envelope.CausationID = event.CausationID.String()
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       body,
		CreatedAt:     envelope.OccurredAt,
	}, nil
}
