package consumers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
)

type fakeHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
	types  []enums.OutboxEventType
}

func (h *fakeHandler) Handle(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *fakeHandler) EventTypes() []enums.OutboxEventType {
	return h.types
}

type fakeCache struct {
	seen   map[uuid.UUID]bool
	err    error
	marked []uuid.UUID
}

func (c *fakeCache) IsProcessed(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.seen[id], nil
}

func (c *fakeCache) MarkProcessed(_ context.Context, _ string, id uuid.UUID) error {
	c.marked = append(c.marked, id)
	return nil
}

func newTestRunner(t *testing.T, handler *fakeHandler, cache *fakeCache) *Runner {
	t.Helper()
	reg := testRegistry(t)
	opts := RunnerOptions{Lanes: 4}
	if cache != nil {
		opts.Cache = cache
	}
	runner, err := NewRunner("payments-service", handler, reg.Decoders(), logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}), opts)
	require.NoError(t, err)
	return runner
}

func testRegistry(t *testing.T) *registry.EventRegistry {
	t.Helper()
	var topics config.TopicsConfig
	topics.PaymentInitiated = "payment-initiated"
	topics.SenderDebited = "sender-debited"
	topics.DebitFailed = "debit-failed"
	topics.ReceiverCreditRequested = "receiver-credit-requested"
	topics.ReceiverCredited = "receiver-credited"
	topics.CreditFailed = "credit-failed"
	topics.CompensatePaymentRequested = "compensate-payment-requested"
	topics.CompensatePayment = "compensate-payment"
	topics.CompensationFailed = "compensation-failed"
	topics.PaymentCompleted = "payment-completed"
	topics.AccountActivity = "account-activity"
	reg, err := registry.NewEventRegistry(topics)
	require.NoError(t, err)
	return reg
}

func senderDebitedMessage(t *testing.T, eventID, paymentID uuid.UUID) broker.Message {
	t.Helper()
	data, err := json.Marshal(payloads.SenderDebitedEvent{
		PaymentID:     paymentID,
		AccountNumber: "ACC-1",
		Amount:        decimal.RequireFromString("40"),
		Currency:      "USD",
		NewBalance:    decimal.RequireFromString("60"),
	})
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return broker.Message{
		Topic: "sender-debited",
		Key:   paymentID.String(),
		Data:  body,
		Attributes: map[string]string{
			broker.AttrEventID:       eventID.String(),
			broker.AttrEventType:     string(enums.EventSenderDebited),
			broker.AttrAggregateType: string(enums.AggregatePayment),
			broker.AttrAggregateID:   paymentID.String(),
		},
	}
}

func TestRunnerDecodesAndDispatches(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{enums.EventSenderDebited}}
	cache := &fakeCache{seen: map[uuid.UUID]bool{}}
	runner := newTestRunner(t, handler, cache)

	eventID, paymentID := uuid.New(), uuid.New()
	require.NoError(t, runner.Handle(context.Background(), senderDebitedMessage(t, eventID, paymentID)))

	require.Len(t, handler.events, 1)
	got := handler.events[0]
	assert.Equal(t, eventID, got.ID)
	assert.Equal(t, paymentID, got.AggregateID)
	assert.Equal(t, paymentID.String(), got.OrderingKey())
	payload, ok := got.Payload.(*payloads.SenderDebitedEvent)
	require.True(t, ok)
	assert.True(t, payload.NewBalance.Equal(decimal.RequireFromString("60")))
	assert.Equal(t, []uuid.UUID{eventID}, cache.marked)
}

func TestRunnerSkipsCachedEvent(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{enums.EventSenderDebited}}
	eventID := uuid.New()
	cache := &fakeCache{seen: map[uuid.UUID]bool{eventID: true}}
	runner := newTestRunner(t, handler, cache)

	require.NoError(t, runner.Handle(context.Background(), senderDebitedMessage(t, eventID, uuid.New())))
	assert.Empty(t, handler.events)
}

func TestRunnerFallsThroughWhenCacheFails(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{enums.EventSenderDebited}}
	cache := &fakeCache{err: errors.New("redis down")}
	runner := newTestRunner(t, handler, cache)

	require.NoError(t, runner.Handle(context.Background(), senderDebitedMessage(t, uuid.New(), uuid.New())))
	assert.Len(t, handler.events, 1)
}

func TestRunnerNacksRetryableErrors(t *testing.T) {
	handler := &fakeHandler{
		types: []enums.OutboxEventType{enums.EventSenderDebited},
		err:   errors.New("db unavailable"),
	}
	cache := &fakeCache{seen: map[uuid.UUID]bool{}}
	runner := newTestRunner(t, handler, cache)

	err := runner.Handle(context.Background(), senderDebitedMessage(t, uuid.New(), uuid.New()))
	require.Error(t, err)
	assert.Empty(t, cache.marked)
}

func TestRunnerAcksNonRetryableErrors(t *testing.T) {
	handler := &fakeHandler{
		types: []enums.OutboxEventType{enums.EventSenderDebited},
		err:   pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"),
	}
	runner := newTestRunner(t, handler, nil)

	require.NoError(t, runner.Handle(context.Background(), senderDebitedMessage(t, uuid.New(), uuid.New())))
	assert.Len(t, handler.events, 1)
}

func TestRunnerIgnoresUnsubscribedTypes(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{enums.EventPaymentInitiated}}
	runner := newTestRunner(t, handler, nil)

	require.NoError(t, runner.Handle(context.Background(), senderDebitedMessage(t, uuid.New(), uuid.New())))
	assert.Empty(t, handler.events)
}

func TestRunnerDropsMalformedBody(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{enums.EventSenderDebited}}
	runner := newTestRunner(t, handler, nil)

	msg := senderDebitedMessage(t, uuid.New(), uuid.New())
	msg.Data = []byte("{not json")
	require.NoError(t, runner.Handle(context.Background(), msg))
	assert.Empty(t, handler.events)
}

func TestRunnerTopicsAreDistinct(t *testing.T) {
	handler := &fakeHandler{types: []enums.OutboxEventType{
		enums.EventAccountOpened,
		enums.EventAccountDeposited,
		enums.EventSenderDebited,
	}}
	runner := newTestRunner(t, handler, nil)
	assert.Equal(t, []string{"account-activity", "sender-debited"}, runner.Topics(testRegistry(t)))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(pkgerrors.New(pkgerrors.CodeValidation, "bad")))
	assert.True(t, IsRetryable(pkgerrors.New(pkgerrors.CodeDependency, "down")))
}

func TestPartitionerKeepsKeyOnOneLane(t *testing.T) {
	p := NewPartitioner(8)
	key := uuid.NewString()
	lane := p.Lane(key)
	for i := 0; i < 10; i++ {
		assert.Equal(t, lane, p.Lane(key))
	}
	assert.Len(t, NewPartitioner(0).lanes, defaultLanes)
}

func TestPartitionerSerialisesSameKey(t *testing.T) {
	p := NewPartitioner(4)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do("payment-1", func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
