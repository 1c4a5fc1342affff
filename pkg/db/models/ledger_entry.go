package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// LedgerEntry is an append-only journal line for one balance mutation.
type LedgerEntry struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID    uuid.UUID             `gorm:"column:account_id;type:uuid;not null"`
	PaymentID    *uuid.UUID            `gorm:"column:payment_id;type:uuid"`
	EntryType    enums.LedgerEntryType `gorm:"column:entry_type;type:text;not null"`
	Amount       decimal.Decimal       `gorm:"column:amount;type:numeric(19,2);not null"`
	BalanceAfter decimal.Decimal       `gorm:"column:balance_after;type:numeric(19,2);not null"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
