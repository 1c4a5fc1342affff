package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 500 * time.Millisecond
	defaultPublishTimeout  = 15 * time.Second
	defaultQuarantineAfter = 5
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnsentForDispatch(tx *gorm.DB, limit int) ([]models.OutboxEvent, error)
	MarkSentTx(tx *gorm.DB, id uuid.UUID, version int, sentAt time.Time) (bool, error)
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	RecordUnrecognizedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	QuarantineTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Publisher     broker.Publisher
	BrokerPing    func(context.Context) error
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Metrics       *metrics.OutboxMetrics
	Now           func() time.Time
}

type Service struct {
	cfg             *config.Config
	logg            *logger.Logger
	db              dbClient
	repo            outboxRepository
	publisher       broker.Publisher
	brokerPing      func(context.Context) error
	registry        registryResolver
	dlq             dlqRepository
	metrics         *metrics.OutboxMetrics
	now             func() time.Time
	batchSize       int
	quarantineAfter int
	publishTimeout  time.Duration
	pollInterval    time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("broker publisher is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.DLQRepository == nil {
		return nil, errors.New("dlq repository is required")
	}

	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	out := params.Config.Outbox
	return &Service{
		cfg:             params.Config,
		logg:            params.Logger,
		db:              params.DB,
		repo:            params.Repository,
		publisher:       params.Publisher,
		brokerPing:      params.BrokerPing,
		registry:        params.Registry,
		dlq:             params.DLQRepository,
		metrics:         params.Metrics,
		now:             now,
		batchSize:       positiveOr(out.BatchSize, defaultBatchSize),
		quarantineAfter: positiveOr(out.QuarantineAfter, defaultQuarantineAfter),
		publishTimeout:  positiveOr(out.PublishTimeout, defaultPublishTimeout),
		pollInterval:    positiveOr(time.Duration(out.PollIntervalMS)*time.Millisecond, defaultPollInterval),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.brokerPing != nil {
		if err := pingDependency(ctx, s.logg, "broker", s.brokerPing); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run drains the outbox until ctx is cancelled. A full or partially failed
// batch is followed immediately or after a growing backoff; an empty one
// waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	pace := newPacer(s.pollInterval)
	for ctx.Err() == nil {
		stats, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = pace.failed()
		case stats.failed > 0:
			wait = pace.failed()
		case stats.sent > 0:
			pace.reset()
			continue
		default:
			wait = pace.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher stopped")
	return ctx.Err()
}

// batchStats summarises one tick.
type batchStats struct {
	fetched     int
	sent        int
	failed      int
	skipped     int
	quarantined int
	held        int
}

func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnsentForDispatch(tx, s.batchSize)
		if err != nil {
			return err
		}
		stats = batchStats{fetched: len(events)}
		// aggregates with a failed publish in this batch; their later rows
		// wait for the next tick so the ordering key stays in order
		blocked := make(map[uuid.UUID]struct{})
		for _, event := range events {
			if _, ok := blocked[event.AggregateID]; ok {
				stats.held++
				continue
			}
			failed := stats.failed
			if err := s.dispatch(ctx, tx, event, &stats); err != nil {
				return err
			}
			if stats.failed > failed {
				blocked[event.AggregateID] = struct{}{}
			}
		}
		return nil
	})
	return stats, err
}

// dispatch publishes one row and records the outcome on it. Only repository
// failures are returned; a failed publish is counted and left for the next
// tick.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, stats *batchStats) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		quarantined, markErr := s.handleUnresolvable(ctx, tx, event, err)
		if markErr != nil {
			return markErr
		}
		if quarantined {
			stats.quarantined++
		} else {
			stats.skipped++
		}
		return nil
	}

	msg := resolved.Message(event)
	logCtx := s.eventContext(ctx, event, msg.Topic)
	if _, err := s.publish(ctx, msg); err != nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{"attempt_count": event.AttemptCount + 1, "error": err.Error()})
		s.logg.Warn(logCtx, "outbox publish failed")
		s.metrics.IncPublishFailure(string(event.EventType))
		if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		stats.failed++
		return nil
	}

	won, err := s.repo.MarkSentTx(tx, event.ID, event.Version, s.now())
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", event.ID, err)
	}
	if !won {
		s.metrics.IncCASLost()
		s.logg.Info(logCtx, "outbox row already marked sent by another dispatcher")
		return nil
	}
	s.metrics.IncPublished(string(event.EventType))
	stats.sent++
	s.logg.Debug(logCtx, "outbox event published")
	return nil
}

func (s *Service) publish(ctx context.Context, msg broker.Message) (string, error) {
	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	return s.publisher.Publish(publishCtx, msg)
}

// handleUnresolvable counts the encounter and parks the row in the
// quarantine ledger once it has been seen quarantineAfter times. The row is
// never marked sent.
func (s *Service) handleUnresolvable(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error) (bool, error) {
	reason := enums.OutboxDLQReasonSerializationFailure
	var nonRetry registry.NonRetryableError
	if errors.As(cause, &nonRetry) && nonRetry.Reason.IsValid() {
		reason = nonRetry.Reason
	}

	encounters := event.UnrecognizedCount + 1
	logCtx := s.logg.WithFields(s.eventContext(ctx, event, ""), map[string]any{
		"error_reason":       reason,
		"unrecognized_count": encounters,
		"error":              cause.Error(),
	})

	if err := s.repo.RecordUnrecognizedTx(tx, event.ID, cause); err != nil {
		return false, fmt.Errorf("record unrecognized %s: %w", event.ID, err)
	}
	if encounters < s.quarantineAfter {
		s.logg.Warn(logCtx, "outbox row could not be resolved")
		return false, nil
	}

	s.logg.Warn(logCtx, "outbox row quarantined")
	now := s.now()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  dlqErrorMessage(cause),
		AttemptCount:  encounters,
		FailedAt:      now,
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return false, fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.QuarantineTx(tx, event.ID, now); err != nil {
		return false, fmt.Errorf("quarantine %s: %w", event.ID, err)
	}
	s.metrics.IncQuarantined(string(reason))
	return true, nil
}

func dlqErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func (s *Service) eventContext(ctx context.Context, event models.OutboxEvent, topic string) context.Context {
	ctx = s.logg.WithEvent(ctx, event.ID.String(), string(event.EventType), event.AggregateID.String())
	fields := map[string]any{
		"aggregate_type": event.AggregateType,
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return s.logg.WithFields(ctx, fields)
}
