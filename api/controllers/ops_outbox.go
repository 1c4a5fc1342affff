package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/api/middleware"
	"github.com/angelmondragon/paysaga-backend/api/responses"
	"github.com/angelmondragon/paysaga-backend/api/validators"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// OutboxQuarantine is the operator view of parked outbox rows.
type OutboxQuarantine interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type dlqEntryDTO struct {
	ID            uuid.UUID                  `json:"id"`
	EventID       uuid.UUID                  `json:"eventId"`
	EventType     enums.OutboxEventType      `json:"eventType"`
	AggregateType enums.OutboxAggregateType  `json:"aggregateType"`
	AggregateID   uuid.UUID                  `json:"aggregateId"`
	Payload       json.RawMessage            `json:"payload"`
	ErrorReason   enums.OutboxDLQErrorReason `json:"errorReason"`
	ErrorMessage  *string                    `json:"errorMessage,omitempty"`
	AttemptCount  int                        `json:"attemptCount"`
	FailedAt      time.Time                  `json:"failedAt"`
}

func OutboxDLQList(q OutboxQuarantine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox quarantine unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := q.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list quarantined events"))
			return
		}
		out := make([]dlqEntryDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, dlqEntryDTO{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Payload:       row.Payload,
				ErrorReason:   row.ErrorReason,
				ErrorMessage:  row.ErrorMessage,
				AttemptCount:  row.AttemptCount,
				FailedAt:      row.FailedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// OutboxDLQRequeue releases a quarantined row back to the dispatcher.
func OutboxDLQRequeue(q OutboxQuarantine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox quarantine unavailable"))
			return
		}
		eventID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "eventId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}
		if err := q.Requeue(r.Context(), eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithEventID(r.Context(), eventID.String())
			op, _ := middleware.OperatorFrom(r.Context())
			ctx = logg.WithField(ctx, "requested_by", op.Subject)
			logg.Info(ctx, "outbox event requeued")
		}
		responses.WriteSuccess(w, map[string]any{
			"eventId":  eventID.String(),
			"requeued": true,
		})
	}
}
