// Package idempotency keeps a short-lived Redis record of events each
// consumer already applied. The processed_events table stays the source of
// truth; a miss or an error here only means "ask the database".
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store is the slice of the Redis client the cache needs.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ProcessedKey(consumer, eventID string) string
}

// Manager answers "has this consumer already applied this event".
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager returns a cache whose markers expire after ttl. A zero ttl keeps
// markers until Redis evicts them.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

func (m *Manager) IsProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, key)
}

// MarkProcessed must only be called once the consumer's transaction committed.
func (m *Manager) MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, key, eventID.String(), m.ttl)
	return err
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.ProcessedKey(consumer, eventID.String()), nil
}
