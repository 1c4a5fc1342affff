package ledger

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paysaga-backend/internal/consumers"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

type fakeEngine struct {
	calls []string
	last  Command
	err   error
}

func (e *fakeEngine) record(op string, cmd Command) (*Outcome, error) {
	e.calls = append(e.calls, op)
	e.last = cmd
	if e.err != nil {
		return nil, e.err
	}
	return &Outcome{Result: enums.LedgerResultOK}, nil
}

func (e *fakeEngine) Debit(_ context.Context, cmd Command) (*Outcome, error) {
	return e.record("debit", cmd)
}

func (e *fakeEngine) Credit(_ context.Context, cmd Command) (*Outcome, error) {
	return e.record("credit", cmd)
}

func (e *fakeEngine) CompensateCredit(_ context.Context, cmd Command) (*Outcome, error) {
	return e.record("refund", cmd)
}

func newTestHandler(t *testing.T, engine *fakeEngine) *Handler {
	t.Helper()
	h, err := NewHandler(engine, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return h
}

func TestHandlerRoutesCommands(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(t, engine)
	paymentID := uuid.New()
	amount := decimal.RequireFromString("40")

	events := []consumers.Event{
		{ID: uuid.New(), Type: enums.EventPaymentInitiated, Payload: &payloads.PaymentInitiatedEvent{
			PaymentID: paymentID, SenderAccount: "S", ReceiverAccount: "R", Amount: amount, Currency: "USD",
		}},
		{ID: uuid.New(), Type: enums.EventReceiverCreditRequested, Payload: &payloads.ReceiverCreditRequestedEvent{
			PaymentID: paymentID, SenderAccount: "S", ReceiverAccount: "R", Amount: amount, Currency: "USD",
		}},
		{ID: uuid.New(), Type: enums.EventCompensatePaymentRequested, Payload: &payloads.CompensatePaymentRequestedEvent{
			PaymentID: paymentID, SenderAccount: "S", Amount: amount, Currency: "USD",
		}},
	}
	accounts := []string{"S", "R", "S"}
	for i, event := range events {
		require.NoError(t, h.Handle(context.Background(), event))
		assert.Equal(t, accounts[i], engine.last.AccountNumber)
		assert.Equal(t, event.ID, engine.last.EventID)
		assert.Equal(t, paymentID, engine.last.PaymentID)
	}
	assert.Equal(t, []string{"debit", "credit", "refund"}, engine.calls)
}

func TestHandlerRejectsUnknownPayload(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{})
	err := h.Handle(context.Background(), consumers.Event{
		ID:      uuid.New(),
		Type:    enums.EventSenderDebited,
		Payload: &payloads.SenderDebitedEvent{},
	})
	assert.ErrorIs(t, err, consumers.ErrUnsupportedEvent)
}

func TestHandlerPropagatesEngineErrors(t *testing.T) {
	boom := errors.New("db down")
	h := newTestHandler(t, &fakeEngine{err: boom})
	err := h.Handle(context.Background(), consumers.Event{
		ID:      uuid.New(),
		Type:    enums.EventPaymentInitiated,
		Payload: &payloads.PaymentInitiatedEvent{PaymentID: uuid.New()},
	})
	assert.ErrorIs(t, err, boom)
}
