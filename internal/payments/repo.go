package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) error {
	fields := map[string]any{
		"status":     update.Status,
		"updated_at": time.Now().UTC(),
	}
	if update.Compensated != nil {
		fields["compensated"] = *update.Compensated
	}
	if update.FailureReason != nil {
		fields["failure_reason"] = *update.FailureReason
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PaymentStatus, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// CountByStatusOlderThan counts payments in statuses whose last update is
// before cutoff.
func (r *repository) CountByStatusOlderThan(ctx context.Context, statuses []enums.PaymentStatus, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status IN ?", statuses).
		Where("updated_at < ?", cutoff).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateTransitions(ctx context.Context, transitions []models.PaymentTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	for i := range transitions {
		if transitions[i].ID == uuid.Nil {
			transitions[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&transitions).Error
}

func (r *repository) ListTransitions(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentTransition, error) {
	var transitions []models.PaymentTransition
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&transitions).Error; err != nil {
		return nil, err
	}
	return transitions, nil
}
