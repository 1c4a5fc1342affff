package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
)

type stubQuarantine struct {
	rows      []models.OutboxDLQ
	listErr   error
	requeue   error
	requeued  []uuid.UUID
	lastLimit int
}

func (s *stubQuarantine) List(_ context.Context, limit int) ([]models.OutboxDLQ, error) {
	s.lastLimit = limit
	return s.rows, s.listErr
}

func (s *stubQuarantine) Requeue(_ context.Context, eventID uuid.UUID) error {
	s.requeued = append(s.requeued, eventID)
	return s.requeue
}

func TestOutboxDLQList(t *testing.T) {
	eventID := uuid.New()
	q := &stubQuarantine{rows: []models.OutboxDLQ{{
		ID:            uuid.New(),
		EventID:       eventID,
		EventType:     "legacy_event",
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonUnrecognizedType,
		AttemptCount:  3,
	}}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/outbox/dlq?limit=10", nil)
	rec := httptest.NewRecorder()

	OutboxDLQList(q, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if q.lastLimit != 10 {
		t.Fatalf("expected limit 10, got %d", q.lastLimit)
	}
	var envelope struct {
		Data []dlqEntryDTO `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].EventID != eventID || envelope.Data[0].AttemptCount != 3 {
		t.Fatalf("unexpected rows %+v", envelope.Data)
	}
}

func TestOutboxDLQListDependencyError(t *testing.T) {
	q := &stubQuarantine{listErr: errors.New("db down")}
	rec := httptest.NewRecorder()

	OutboxDLQList(q, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ops/outbox/dlq", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestOutboxDLQRequeue(t *testing.T) {
	eventID := uuid.New()
	q := &stubQuarantine{}
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/ops/outbox/dlq/"+eventID.String()+"/requeue", nil), "eventId", eventID.String())
	rec := httptest.NewRecorder()

	OutboxDLQRequeue(q, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(q.requeued) != 1 || q.requeued[0] != eventID {
		t.Fatalf("unexpected requeue calls %v", q.requeued)
	}
}

func TestOutboxDLQRequeueUnknownEvent(t *testing.T) {
	eventID := uuid.New()
	q := &stubQuarantine{requeue: pkgerrors.New(pkgerrors.CodeNotFound, "no quarantined outbox event with that id")}
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "eventId", eventID.String())
	rec := httptest.NewRecorder()

	OutboxDLQRequeue(q, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
