package inbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/db/dbtest"
)

type outcome struct {
	Result     string `json:"result"`
	NewBalance string `json:"new_balance"`
}

func TestMarkProcessedRoundTrip(t *testing.T) {
	db := dbtest.Open(t, "inbox_roundtrip")
	repo := NewRepository()
	eventID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		seen, err := repo.HasProcessed(tx, eventID)
		require.NoError(t, err)
		require.False(t, seen)
		return repo.MarkProcessed(tx, Record{
			EventID:   eventID,
			EventType: "PaymentInitiated",
			Payload:   json.RawMessage(`{"payment_id":"p"}`),
			Outcome:   outcome{Result: "ok", NewBalance: "60"},
		})
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		seen, err := repo.HasProcessed(tx, eventID)
		require.NoError(t, err)
		assert.True(t, seen)

		var got outcome
		found, err := repo.Outcome(tx, eventID, &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, outcome{Result: "ok", NewBalance: "60"}, got)
		return nil
	}))
}

func TestMarkProcessedDuplicate(t *testing.T) {
	db := dbtest.Open(t, "inbox_dup")
	repo := NewRepository()
	eventID := uuid.New()

	mark := func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			return repo.MarkProcessed(tx, Record{EventID: eventID, EventType: "SenderDebited"})
		})
	}
	require.NoError(t, mark())
	require.ErrorIs(t, mark(), ErrAlreadyProcessed)
}

func TestMarkProcessedRolledBackWithEffect(t *testing.T) {
	db := dbtest.Open(t, "inbox_rollback")
	repo := NewRepository()
	eventID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, repo.MarkProcessed(tx, Record{EventID: eventID, EventType: "CreditFailed"}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		seen, err := repo.HasProcessed(tx, eventID)
		require.NoError(t, err)
		assert.False(t, seen, "inbox row must not outlive a rolled back effect")
		return nil
	}))
}

func TestInboxRequiresTransaction(t *testing.T) {
	repo := NewRepository()
	_, err := repo.HasProcessed(nil, uuid.New())
	require.Error(t, err)
	require.Error(t, repo.MarkProcessed(nil, Record{EventID: uuid.New()}))
}

func TestOutcomeMissing(t *testing.T) {
	db := dbtest.Open(t, "inbox_missing")
	repo := NewRepository()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var got outcome
		found, err := repo.Outcome(tx, uuid.New(), &got)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	}))
}
