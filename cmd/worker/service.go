package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/internal/consumers"
	"github.com/angelmondragon/paysaga-backend/internal/ledger"
	"github.com/angelmondragon/paysaga-backend/internal/payments"
	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/inbox"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
)

type pinger interface {
	Ping(context.Context) error
}

type topicResolver interface {
	Topic(enums.OutboxEventType) string
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	Subscriber broker.Subscriber
	Runner     *consumers.Runner
	Topics     topicResolver
}

type Service struct {
	cfg        *config.Config
	logg       *logger.Logger
	db         pinger
	redis      pinger
	subscriber broker.Subscriber
	runner     *consumers.Runner
	topics     topicResolver
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
	if params.Subscriber == nil {
		return nil, errors.New("broker subscriber is required")
	}
	if params.Runner == nil {
		return nil, errors.New("consumer runner is required")
	}
	if params.Topics == nil {
		return nil, errors.New("topic resolver is required")
	}

	return &Service{
		cfg:        params.Config,
		logg:       params.Logger,
		db:         params.DB,
		redis:      params.Redis,
		subscriber: params.Subscriber,
		runner:     params.Runner,
		topics:     params.Topics,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until the subscription ends or ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	err := s.runner.Run(ctx, s.subscriber, s.topics)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// buildHandler wires the consumer side of the configured service kind
// against its own database.
func buildHandler(cfg *config.Config, conn *gorm.DB, logg *logger.Logger, sagaMetrics *metrics.SagaMetrics) (consumers.Handler, error) {
	tx := db.NewFromConn(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	processed := inbox.NewRepository()

	switch {
	case cfg.Service.IsAccounts():
		engine, err := ledger.NewEngine(ledger.NewRepository(conn), tx, emitter, processed, logg, sagaMetrics)
		if err != nil {
			return nil, err
		}
		return ledger.NewHandler(engine, logg)
	case cfg.Service.IsPayments():
		saga, err := payments.NewSaga(payments.NewRepository(conn), tx, emitter, processed, logg, sagaMetrics)
		if err != nil {
			return nil, err
		}
		return payments.NewHandler(saga, logg)
	default:
		return nil, fmt.Errorf("unsupported service kind %q", cfg.Service.Kind)
	}
}
