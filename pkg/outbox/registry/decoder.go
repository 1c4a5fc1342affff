package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// ErrNoDecoder is returned by Decode for an event type/version pair with no
// registered decoder.
var ErrNoDecoder = errors.New("no decoder registered")

// DecodeFunc turns an envelope's data field into a typed payload.
type DecodeFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, schema version) to payload decoders.
// Registration happens at startup; Decode is safe for concurrent use once
// the consumer is running.
type DecoderRegistry struct {
	decoders map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecodeFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.decoders[decoderKey{eventType: eventType, version: version}] = fn
}

func (r *DecoderRegistry) Has(eventType enums.OutboxEventType, version int) bool {
	_, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	return ok
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	fn, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w for %s v%d", ErrNoDecoder, eventType, version)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%s v%d: empty payload", eventType, version)
	}
	return fn(trimmed)
}

// JSONInto builds a DecodeFunc that unmarshals into a fresh value from
// newTarget on every call.
func JSONInto(newTarget func() any) DecodeFunc {
	return func(payload json.RawMessage) (any, error) {
		target := newTarget()
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}
