package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
)

const defaultStuckPaymentAge = 15 * time.Minute

// stuckStatuses are the non-terminal statuses a payment should leave on its
// own once the ledger replies.
var stuckStatuses = []enums.PaymentStatus{
	enums.PaymentStatusInitiated,
	enums.PaymentStatusSenderDebited,
	enums.PaymentStatusReceiverCredited,
	enums.PaymentStatusCreditFailed,
}

type PaymentsAttentionJobParams struct {
	Logger     *logger.Logger
	Repository paymentCounter
	Metrics    *metrics.SagaMetrics
	StuckAge   time.Duration
}

type paymentCounter interface {
	CountByStatusOlderThan(ctx context.Context, statuses []enums.PaymentStatus, cutoff time.Time) (int64, error)
}

func NewPaymentsAttentionJob(params PaymentsAttentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	age := params.StuckAge
	if age <= 0 {
		age = defaultStuckPaymentAge
	}
	return &paymentsAttentionJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
		age:     age,
		now:     time.Now,
	}, nil
}

type paymentsAttentionJob struct {
	logg    *logger.Logger
	repo    paymentCounter
	metrics *metrics.SagaMetrics
	age     time.Duration
	now     func() time.Time
}

func (j *paymentsAttentionJob) Name() string { return "payments-needing-attention" }

func (j *paymentsAttentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	stuck, err := j.repo.CountByStatusOlderThan(ctx, stuckStatuses, now.Add(-j.age))
	if err != nil {
		return fmt.Errorf("count stuck payments: %w", err)
	}
	manual, err := j.repo.CountByStatusOlderThan(ctx, []enums.PaymentStatus{enums.PaymentStatusManualIntervention}, now)
	if err != nil {
		return fmt.Errorf("count manual intervention payments: %w", err)
	}
	j.metrics.SetNeedingAttention("stuck", stuck)
	j.metrics.SetNeedingAttention("manual_intervention", manual)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stuck_after":         j.age.String(),
		"stuck":               stuck,
		"manual_intervention": manual,
	})
	if stuck > 0 || manual > 0 {
		j.logg.Warn(logCtx, "payments need operator attention")
		return nil
	}
	j.logg.Info(logCtx, "no payments need attention")
	return nil
}
