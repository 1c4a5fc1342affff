package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// Payment is the saga aggregate owned by the payments service.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SenderAccount   string              `gorm:"column:sender_account;not null" json:"senderAccount"`
	ReceiverAccount string              `gorm:"column:receiver_account;not null" json:"receiverAccount"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(19,2);not null" json:"amount"`
	Currency        string              `gorm:"column:currency;type:char(3);not null" json:"currency"`
	Status          enums.PaymentStatus `gorm:"column:status;type:text;not null" json:"status"`
	IdempotencyKey  string              `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotencyKey"`
	Compensated     bool                `gorm:"column:compensated;not null;default:false" json:"compensated"`
	FailureReason   *string             `gorm:"column:failure_reason" json:"failureReason,omitempty"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Payment) TableName() string { return "payments" }
