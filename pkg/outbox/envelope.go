package outbox

import (
	"encoding/json"
	"time"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// carried verbatim as the broker message body.
type PayloadEnvelope struct {
	Version     int             `json:"version"`
	EventID     string          `json:"eventId"`
	CausationID string          `json:"causationId,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}
