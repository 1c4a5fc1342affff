package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// OutboxDLQ is the quarantine ledger for outbox rows the dispatcher could not
// resolve. The source row stays in outbox_events with sent=false.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:text;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
	RequeuedAt    *time.Time                 `gorm:"column:requeued_at"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
