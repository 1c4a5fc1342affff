package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
)

const defaultOutboxLagAge = 5 * time.Minute

type OutboxBacklogJobParams struct {
	Logger     *logger.Logger
	Repository outboxBacklogRepo
	Metrics    *metrics.OutboxMetrics
	LagAge     time.Duration
}

type outboxBacklogRepo interface {
	CountBacklog(ctx context.Context, cutoff time.Time) (int64, error)
	CountQuarantined(ctx context.Context) (int64, error)
}

// NewOutboxBacklogJob reports rows the dispatcher has not shipped within
// LagAge, and rows parked in quarantine.
func NewOutboxBacklogJob(params OutboxBacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	lag := params.LagAge
	if lag <= 0 {
		lag = defaultOutboxLagAge
	}
	return &outboxBacklogJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
		lag:     lag,
		now:     time.Now,
	}, nil
}

type outboxBacklogJob struct {
	logg    *logger.Logger
	repo    outboxBacklogRepo
	metrics *metrics.OutboxMetrics
	lag     time.Duration
	now     func() time.Time
}

func (j *outboxBacklogJob) Name() string { return "outbox-backlog" }

func (j *outboxBacklogJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.lag)
	backlog, err := j.repo.CountBacklog(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count outbox backlog: %w", err)
	}
	parked, err := j.repo.CountQuarantined(ctx)
	if err != nil {
		return fmt.Errorf("count quarantined outbox rows: %w", err)
	}
	j.metrics.SetBacklog(backlog)
	j.metrics.SetQuarantined(parked)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"backlog_rows":     backlog,
		"quarantined_rows": parked,
	})
	if backlog > 0 || parked > 0 {
		j.logg.Warn(logCtx, "outbox has rows waiting")
		return nil
	}
	j.logg.Info(logCtx, "outbox backlog clear")
	return nil
}
