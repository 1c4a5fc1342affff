package payments

import (
	"context"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence for payments and their transition history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	UpdateState(ctx context.Context, id uuid.UUID, update StateUpdate) error
	ListByStatus(ctx context.Context, status enums.PaymentStatus, limit int) ([]models.Payment, error)
	CountByStatusOlderThan(ctx context.Context, statuses []enums.PaymentStatus, cutoff time.Time) (int64, error)

	CreateTransitions(ctx context.Context, transitions []models.PaymentTransition) error
	ListTransitions(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentTransition, error)
}

// StateUpdate is the mutable slice of a payment row.
type StateUpdate struct {
	Status        enums.PaymentStatus
	Compensated   *bool
	FailureReason *string
}
