// Package dbtest opens throwaway sqlite databases shaped like the Postgres
// schema in pkg/migrate/migrations. Types are loosened to what sqlite
// understands; amounts are TEXT so decimals round-trip exactly.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const outboxDDL = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME NOT NULL,
  sent INTEGER NOT NULL DEFAULT 0,
  sent_at DATETIME,
  version INTEGER NOT NULL DEFAULT 0,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  unrecognized_count INTEGER NOT NULL DEFAULT 0,
  quarantined_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  requeued_at DATETIME,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS processed_events (
  event_id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  payload BLOB,
  outcome BLOB,
  processed_at DATETIME
);`

const accountsDDL = `
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  account_number TEXT NOT NULL UNIQUE,
  owner_ref TEXT NOT NULL,
  balance TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL REFERENCES accounts(id),
  payment_id TEXT,
  entry_type TEXT NOT NULL,
  amount TEXT NOT NULL,
  balance_after TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (payment_id, entry_type)
);`

const paymentsDDL = `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  sender_account TEXT NOT NULL,
  receiver_account TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  compensated INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payment_transitions (
  id TEXT PRIMARY KEY,
  payment_id TEXT NOT NULL REFERENCES payments(id),
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  event_id TEXT,
  event_type TEXT NOT NULL,
  created_at DATETIME
);`

// Open returns an isolated in-memory database with the outbox and inbox
// tables. The pool is pinned to one connection so a test that touches the
// database outside of an open transaction fails loudly instead of racing.
func Open(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	exec(t, db, outboxDDL)
	return db
}

// OpenAccounts adds the accounts service tables.
func OpenAccounts(t *testing.T) *gorm.DB {
	t.Helper()
	db := Open(t, "accounts")
	exec(t, db, accountsDDL)
	return db
}

// OpenPayments adds the payments service tables.
func OpenPayments(t *testing.T) *gorm.DB {
	t.Helper()
	db := Open(t, "payments")
	exec(t, db, paymentsDDL)
	return db
}

func exec(t *testing.T, db *gorm.DB, ddl string) {
	t.Helper()
	if err := db.Exec(ddl).Error; err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}
