package outbox

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

// DLQRepository stores the quarantine ledger. Entries are never deleted;
// a requeue only stamps requeued_at.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// openEntries limits a query to entries not yet requeued, newest first.
func openEntries(db *gorm.DB) *gorm.DB {
	return db.Where("requeued_at IS NULL").Order("failed_at DESC")
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns at most limit open entries; a non-positive limit means 50.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListed
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).Scopes(openEntries).Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *DLQRepository) MarkRequeuedTx(tx *gorm.DB, eventID uuid.UUID, at time.Time) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxDLQ{}).
		Where("event_id = ? AND requeued_at IS NULL", eventID).
		Update("requeued_at", at).Error
}

// truncateDLQError caps the message at maxDLQErrorLen bytes on a rune
// boundary; postgres rejects invalid UTF-8 in text columns.
func truncateDLQError(message string) string {
	message = strings.ToValidUTF8(message, "?")
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
