package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// PaymentTransition records one applied saga step.
type PaymentTransition struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaymentID  uuid.UUID           `gorm:"column:payment_id;type:uuid;not null" json:"paymentId"`
	FromStatus enums.PaymentStatus `gorm:"column:from_status;type:text;not null" json:"fromStatus"`
	ToStatus   enums.PaymentStatus `gorm:"column:to_status;type:text;not null" json:"toStatus"`
	EventID    *uuid.UUID          `gorm:"column:event_id;type:uuid" json:"eventId,omitempty"`
	EventType  string              `gorm:"column:event_type;type:text;not null" json:"eventType"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (PaymentTransition) TableName() string { return "payment_transitions" }
