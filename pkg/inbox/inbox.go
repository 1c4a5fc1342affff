// Package inbox records consumed event ids in the same transaction as the
// effect of consuming them, so a redelivered event is recognised and skipped.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
)

const processedEventsPKey = "processed_events_pkey"

var (
	// ErrAlreadyProcessed is returned by MarkProcessed when a concurrent
	// consumer recorded the same event first.
	ErrAlreadyProcessed = errors.New("event already processed")

	errTxRequired = errors.New("transaction required")
)

// Record is what gets remembered about a processed event.
type Record struct {
	EventID   uuid.UUID
	EventType string
	Payload   json.RawMessage
	Outcome   any
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// HasProcessed reports whether eventID was already recorded.
func (r *Repository) HasProcessed(tx *gorm.DB, eventID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	var count int64
	if err := tx.Model(&models.ProcessedEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return count > 0, nil
}

// Find returns the stored record for eventID, or nil when absent.
func (r *Repository) Find(tx *gorm.DB, eventID uuid.UUID) (*models.ProcessedEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var row models.ProcessedEvent
	err := tx.Where("event_id = ?", eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load processed event: %w", err)
	}
	return &row, nil
}

// Outcome decodes the stored outcome of eventID into target. It returns false
// when the event was never processed or no outcome was stored.
func (r *Repository) Outcome(tx *gorm.DB, eventID uuid.UUID, target any) (bool, error) {
	row, err := r.Find(tx, eventID)
	if err != nil || row == nil || len(row.Outcome) == 0 {
		return false, err
	}
	if err := json.Unmarshal(row.Outcome, target); err != nil {
		return false, fmt.Errorf("decode stored outcome: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts the inbox row inside tx.
func (r *Repository) MarkProcessed(tx *gorm.DB, rec Record) error {
	if tx == nil {
		return errTxRequired
	}
	if rec.EventID == uuid.Nil {
		return errors.New("event id is required")
	}
	row := models.ProcessedEvent{
		EventID:   rec.EventID,
		EventType: rec.EventType,
		Payload:   rec.Payload,
	}
	if len(row.Payload) == 0 {
		row.Payload = json.RawMessage(`null`)
	}
	if rec.Outcome != nil {
		encoded, err := json.Marshal(rec.Outcome)
		if err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		row.Outcome = encoded
	}
	if err := tx.Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, processedEventsPKey) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}
