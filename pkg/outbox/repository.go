package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
)

var errTxRequired = errors.New("transaction required")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnsentForDispatch claims up to limit unsent rows in creation order.
// Rows locked by another dispatcher are skipped rather than waited on.
func (r *Repository) FetchUnsentForDispatch(tx *gorm.DB, limit int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("sent = ?", false).
		Where("quarantined_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkSentTx flips sent on the row only if its version is still the one the
// caller read. It returns false when another dispatcher got there first.
func (r *Repository) MarkSentTx(tx *gorm.DB, id uuid.UUID, version int, sentAt time.Time) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND version = ? AND sent = ?", id, version, false).
		Updates(map[string]any{
			"sent":    true,
			"sent_at": sentAt,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateDLQError(cause.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// RecordUnrecognizedTx counts one more failed attempt to resolve the row.
func (r *Repository) RecordUnrecognizedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":         truncateDLQError(cause.Error()),
			"unrecognized_count": gorm.Expr("unrecognized_count + 1"),
		}).Error
}

// QuarantineTx removes the row from dispatch without marking it sent.
func (r *Repository) QuarantineTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("quarantined_at", at).Error
}

// RequeueTx returns a quarantined row to dispatch with a fresh counter.
func (r *Repository) RequeueTx(tx *gorm.DB, id uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND sent = ? AND quarantined_at IS NOT NULL", id, false).
		Updates(map[string]any{
			"quarantined_at":     nil,
			"unrecognized_count": 0,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountBacklog counts unsent, unquarantined rows created before cutoff.
func (r *Repository) CountBacklog(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("sent = ? AND quarantined_at IS NULL AND created_at < ?", false, cutoff).
		Count(&count).Error
	return count, err
}

// CountQuarantined counts rows parked by the dispatcher.
func (r *Repository) CountQuarantined(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("sent = ? AND quarantined_at IS NOT NULL", false).
		Count(&count).Error
	return count, err
}

// ListByAggregate returns every row staged for one aggregate, oldest first.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
