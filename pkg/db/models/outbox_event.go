package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// OutboxEvent is a message staged in the same transaction as the state change
// that produced it. Rows are never deleted; Sent flips exactly once, guarded
// by the Version compare-and-set.
type OutboxEvent struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType         enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType     enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID       uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload           json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	Sent              bool                      `gorm:"column:sent;not null;default:false"`
	SentAt            *time.Time                `gorm:"column:sent_at"`
	Version           int                       `gorm:"column:version;not null;default:0"`
	AttemptCount      int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError         *string                   `gorm:"column:last_error"`
	UnrecognizedCount int                       `gorm:"column:unrecognized_count;not null;default:0"`
	QuarantinedAt     *time.Time                `gorm:"column:quarantined_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
