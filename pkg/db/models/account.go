package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds a non-negative balance owned by the accounts service.
type Account struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountNumber string          `gorm:"column:account_number;not null;uniqueIndex"`
	OwnerRef      string          `gorm:"column:owner_ref;not null"`
	Balance       decimal.Decimal `gorm:"column:balance;type:numeric(19,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }
