package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent is the inbox row written in the same transaction as the
// effect of a consumed event.
type ProcessedEvent struct {
	EventID     uuid.UUID       `gorm:"column:event_id;type:uuid;primaryKey"`
	EventType   string          `gorm:"column:event_type;type:text;not null"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb"`
	Outcome     json.RawMessage `gorm:"column:outcome;type:jsonb"`
	ProcessedAt time.Time       `gorm:"column:processed_at;autoCreateTime"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
