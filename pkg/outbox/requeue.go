package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Quarantine lists and releases rows the dispatcher parked.
type Quarantine struct {
	tx   txRunner
	repo *Repository
	dlq  *DLQRepository
	now  func() time.Time
}

func NewQuarantine(tx txRunner, repo *Repository, dlq *DLQRepository) *Quarantine {
	return &Quarantine{tx: tx, repo: repo, dlq: dlq, now: time.Now}
}

func (q *Quarantine) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	return q.dlq.List(ctx, limit)
}

// Requeue puts the outbox row back in line for dispatch. The DLQ entry is
// kept as history and stamped with requeued_at.
func (q *Quarantine) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return q.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := q.repo.RequeueTx(tx, eventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue outbox event")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no quarantined outbox event with that id")
		}
		if err := q.dlq.MarkRequeuedTx(tx, eventID, q.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp dlq entry")
		}
		return nil
	})
}
