package payments

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/db/dbtest"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/inbox"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
)

type paymentsFixture struct {
	db      *gorm.DB
	repo    Repository
	service Service
	saga    *Saga
	outbox  *outbox.Repository
}

func newPaymentsFixture(t *testing.T) *paymentsFixture {
	t.Helper()
	gdb := dbtest.OpenPayments(t)
	client := db.NewFromConn(gdb)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	outboxRepo := outbox.NewRepository(gdb)
	emitter := outbox.NewService(outboxRepo, logg)
	repo := NewRepository(gdb)

	svc, err := NewService(repo, client, emitter, logg)
	require.NoError(t, err)
	saga, err := NewSaga(repo, client, emitter, inbox.NewRepository(), logg, nil)
	require.NoError(t, err)
	return &paymentsFixture{db: gdb, repo: repo, service: svc, saga: saga, outbox: outboxRepo}
}

func (f *paymentsFixture) initiate(t *testing.T, key string) *models.Payment {
	t.Helper()
	payment, created, err := f.service.InitiatePayment(context.Background(), validInput(key))
	require.NoError(t, err)
	require.True(t, created)
	return payment
}

func (f *paymentsFixture) events(t *testing.T, paymentID uuid.UUID) []models.OutboxEvent {
	t.Helper()
	rows, err := f.outbox.ListByAggregate(context.Background(), paymentID)
	require.NoError(t, err)
	return rows
}

func validInput(key string) InitiatePaymentInput {
	return InitiatePaymentInput{
		SenderAccount:   "ACC-1",
		ReceiverAccount: "ACC-2",
		Amount:          decimal.RequireFromString("40.00"),
		Currency:        "usd",
		IdempotencyKey:  key,
	}
}

func TestInitiatePaymentStagesInitiatedEvent(t *testing.T) {
	f := newPaymentsFixture(t)
	payment := f.initiate(t, "key-1")

	assert.Equal(t, enums.PaymentStatusInitiated, payment.Status)
	assert.Equal(t, "USD", payment.Currency)

	rows := f.events(t, payment.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPaymentInitiated, rows[0].EventType)
	assert.Equal(t, enums.AggregatePayment, rows[0].AggregateType)
}

func TestInitiatePaymentSameKeyReturnsExisting(t *testing.T) {
	f := newPaymentsFixture(t)
	first := f.initiate(t, "key-1")

	second, created, err := f.service.InitiatePayment(context.Background(), validInput("key-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var payments int64
	require.NoError(t, f.db.Model(&models.Payment{}).Count(&payments).Error)
	assert.EqualValues(t, 1, payments)
	assert.Len(t, f.events(t, first.ID), 1)
}

func TestInitiatePaymentValidation(t *testing.T) {
	f := newPaymentsFixture(t)

	mutate := []func(*InitiatePaymentInput){
		func(in *InitiatePaymentInput) { in.ReceiverAccount = in.SenderAccount },
		func(in *InitiatePaymentInput) { in.Amount = decimal.Zero },
		func(in *InitiatePaymentInput) { in.Amount = decimal.RequireFromString("-5") },
		func(in *InitiatePaymentInput) { in.Amount = decimal.RequireFromString("1.001") },
		func(in *InitiatePaymentInput) { in.Currency = "XYZ" },
		func(in *InitiatePaymentInput) { in.IdempotencyKey = "  " },
		func(in *InitiatePaymentInput) { in.SenderAccount = "" },
	}
	for i, m := range mutate {
		input := validInput("key-v")
		m(&input)
		_, _, err := f.service.InitiatePayment(context.Background(), input)
		require.Error(t, err, "case %d", i)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "case %d: %v", i, err)
	}
}

func TestGetPaymentIncludesTransitions(t *testing.T) {
	f := newPaymentsFixture(t)
	payment := f.initiate(t, "key-1")

	_, err := f.saga.Apply(context.Background(), InboundEvent{
		EventID:   uuid.New(),
		EventType: enums.EventSenderDebited,
		PaymentID: payment.ID,
	})
	require.NoError(t, err)

	details, err := f.service.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSenderDebited, details.Status)
	require.Len(t, details.Transitions, 1)
	assert.Equal(t, enums.PaymentStatusInitiated, details.Transitions[0].FromStatus)

	_, err = f.service.GetPayment(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListByStatus(t *testing.T) {
	f := newPaymentsFixture(t)
	f.initiate(t, "key-1")
	f.initiate(t, "key-2")

	payments, err := f.service.ListByStatus(context.Background(), enums.PaymentStatusInitiated, 0)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	payments, err = f.service.ListByStatus(context.Background(), enums.PaymentStatusCompleted, 10)
	require.NoError(t, err)
	assert.Empty(t, payments)

	_, err = f.service.ListByStatus(context.Background(), enums.PaymentStatus("BOGUS"), 10)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
