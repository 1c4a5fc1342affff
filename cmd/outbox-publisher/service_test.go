package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/db/dbtest"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
)

type dispatcherFixture struct {
	conn     *gorm.DB
	repo     *outbox.Repository
	emitter  *outbox.Service
	pub      *fakePublisher
	metrics  *metrics.OutboxMetrics
	reg      *prometheus.Registry
	service  *Service
	registry *registry.EventRegistry
}

func newDispatcherFixture(t *testing.T, wrap func(*outbox.Repository) outboxRepository) *dispatcherFixture {
	t.Helper()
	conn := dbtest.Open(t, "dispatcher")
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
	base := outbox.NewRepository(conn)
	var repo outboxRepository = base
	if wrap != nil {
		repo = wrap(base)
	}
	eventRegistry, err := registry.NewEventRegistry(testTopics())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &dispatcherFixture{
		conn:     conn,
		repo:     base,
		emitter:  outbox.NewService(base, logg),
		pub:      &fakePublisher{},
		metrics:  metrics.NewOutboxMetrics(reg),
		reg:      reg,
		registry: eventRegistry,
	}
	f.service, err = NewService(ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{
			BatchSize:       10,
			QuarantineAfter: 3,
		}},
		Logger:        logg,
		DB:            db.NewFromConn(conn),
		Publisher:     f.pub,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       f.metrics,
	})
	require.NoError(t, err)
	return f
}

func (f *dispatcherFixture) emitInitiated(t *testing.T, paymentID uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = f.emitter.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   paymentID,
			Data: payloads.PaymentInitiatedEvent{
				PaymentID:       paymentID,
				SenderAccount:   "ACC-1",
				ReceiverAccount: "ACC-2",
				Amount:          decimal.RequireFromString("40"),
				Currency:        "USD",
			},
		})
		return err
	}))
	return id
}

func (f *dispatcherFixture) row(t *testing.T, id uuid.UUID) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, f.conn.First(&row, "id = ?", id).Error)
	return row
}

func TestProcessBatchPublishesAndMarksSent(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	paymentID := uuid.New()
	eventID := f.emitInitiated(t, paymentID)

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.sent)

	require.Len(t, f.pub.sent, 1)
	msg := f.pub.sent[0]
	assert.Equal(t, "payment-initiated", msg.Topic)
	assert.Equal(t, paymentID.String(), msg.Key)
	assert.Equal(t, eventID.String(), msg.Attr(broker.AttrEventID))
	assert.Equal(t, string(enums.EventPaymentInitiated), msg.Attr(broker.AttrEventType))

	row := f.row(t, eventID)
	assert.True(t, row.Sent)
	assert.NotNil(t, row.SentAt)
	assert.Equal(t, 1, row.Version)
	assert.Equal(t, float64(1), counterValue(t, f.reg, "outbox_published_total"))

	stats, err = f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.fetched)
	assert.Len(t, f.pub.sent, 1)
}

func TestProcessBatchKeepsRowUnsentOnPublishFailure(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	eventID := f.emitInitiated(t, uuid.New())
	f.pub.failNext(errors.New("broker unavailable"))

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.failed)

	row := f.row(t, eventID)
	assert.False(t, row.Sent)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "broker unavailable")

	stats, err = f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.sent)
	assert.True(t, f.row(t, eventID).Sent)
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	first := f.emitInitiated(t, uuid.New())
	second := f.emitInitiated(t, uuid.New())
	f.pub.failNext(errors.New("transient"))

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.fetched)
	assert.Equal(t, 1, stats.failed)
	assert.Equal(t, 1, stats.sent)
	assert.False(t, f.row(t, first).Sent)
	assert.True(t, f.row(t, second).Sent)
}

func TestProcessBatchHoldsAggregateAfterFailure(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	paymentID := uuid.New()
	first := f.emitInitiated(t, paymentID)
	second := f.emitInitiated(t, paymentID)
	other := f.emitInitiated(t, uuid.New())
	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range []uuid.UUID{first, second, other} {
		require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("id = ?", id).
			Update("created_at", base.Add(time.Duration(i)*time.Second)).Error)
	}
	f.pub.failNext(errors.New("transient"))

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.fetched)
	assert.Equal(t, 1, stats.failed)
	assert.Equal(t, 1, stats.held)
	assert.Equal(t, 1, stats.sent)
	assert.False(t, f.row(t, first).Sent)
	assert.False(t, f.row(t, second).Sent)
	assert.True(t, f.row(t, other).Sent)
	assert.Equal(t, 1, f.row(t, first).AttemptCount)
	assert.Zero(t, f.row(t, second).AttemptCount)

	stats, err = f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.sent)
	assert.Zero(t, stats.held)
	require.Len(t, f.pub.sent, 3)
	assert.Equal(t, first.String(), f.pub.sent[1].Attributes[broker.AttrEventID])
	assert.Equal(t, second.String(), f.pub.sent[2].Attributes[broker.AttrEventID])
}

func TestProcessBatchQuarantinesUnknownTypeAfterThreshold(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.OutboxEventType("legacy_refund_issued"),
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{"x":1}}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.conn.Create(&row).Error)

	for i := 1; i <= 2; i++ {
		stats, err := f.service.processBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.skipped, "encounter %d", i)
		assert.Equal(t, i, f.row(t, row.ID).UnrecognizedCount)
	}

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.quarantined)
	assert.Empty(t, f.pub.sent)

	parked := f.row(t, row.ID)
	assert.False(t, parked.Sent)
	assert.NotNil(t, parked.QuarantinedAt)

	var entry models.OutboxDLQ
	require.NoError(t, f.conn.First(&entry, "event_id = ?", row.ID).Error)
	assert.Equal(t, enums.OutboxDLQReasonUnrecognizedType, entry.ErrorReason)
	assert.Equal(t, 3, entry.AttemptCount)

	stats, err = f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.fetched)
}

func TestProcessBatchQuarantinesUndecodableEnvelope(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.service.quarantineAfter = 1
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentInitiated,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`"not an envelope"`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.conn.Create(&row).Error)

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.quarantined)

	var entry models.OutboxDLQ
	require.NoError(t, f.conn.First(&entry, "event_id = ?", row.ID).Error)
	assert.Equal(t, enums.OutboxDLQReasonSerializationFailure, entry.ErrorReason)
}

// racingRepo lets a second dispatcher mark the row sent between the fetch and
// the compare-and-set.
type racingRepo struct {
	*outbox.Repository
}

func (r racingRepo) MarkSentTx(tx *gorm.DB, id uuid.UUID, version int, sentAt time.Time) (bool, error) {
	if _, err := r.Repository.MarkSentTx(tx, id, version, sentAt); err != nil {
		return false, err
	}
	return r.Repository.MarkSentTx(tx, id, version, sentAt)
}

func TestProcessBatchTreatsLostCASAsHandled(t *testing.T) {
	f := newDispatcherFixture(t, func(repo *outbox.Repository) outboxRepository {
		return racingRepo{Repository: repo}
	})
	eventID := f.emitInitiated(t, uuid.New())

	stats, err := f.service.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.sent)
	assert.Equal(t, float64(1), counterValue(t, f.reg, "outbox_mark_sent_conflicts_total"))
	assert.Zero(t, counterValue(t, f.reg, "outbox_published_total"))

	row := f.row(t, eventID)
	assert.True(t, row.Sent)
	assert.Equal(t, 1, row.Version)
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{Config: &config.Config{}, Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.EqualError(t, err, "database client is required")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.service.pollInterval = 5 * time.Millisecond
	f.emitInitiated(t, uuid.New())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := f.service.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, f.pub.sent, 1)
}

func counterValue(t *testing.T, gatherer prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += counterOf(metric)
		}
	}
	return total
}

func counterOf(metric *dto.Metric) float64 {
	if metric.GetCounter() == nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}

func testTopics() config.TopicsConfig {
	return config.TopicsConfig{
		PaymentInitiated:           "payment-initiated",
		SenderDebited:              "sender-debited",
		DebitFailed:                "debit-failed",
		ReceiverCreditRequested:    "receiver-credit-requested",
		ReceiverCredited:           "receiver-credited",
		CreditFailed:               "credit-failed",
		CompensatePaymentRequested: "compensate-payment-requested",
		CompensatePayment:          "compensate-payment",
		CompensationFailed:         "compensation-failed",
		PaymentCompleted:           "payment-completed",
		AccountActivity:            "account-activity",
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []broker.Message
	failures []error
}

func (f *fakePublisher) failNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

func (f *fakePublisher) Publish(_ context.Context, msg broker.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return "", err
	}
	f.sent = append(f.sent, msg)
	return uuid.NewString(), nil
}

func (f *fakePublisher) Close() error { return nil }
