// Package broker is the transport seam between the outbox dispatcher, the
// consumer runtime and the concrete Pub/Sub or Kafka clients.
package broker

import (
	"context"
	"fmt"
	"strings"
)

// Attribute keys stamped on every published message.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
)

// Message is one broker record. Key is the ordering/partition key.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Attr returns an attribute value or "" when absent.
func (m Message) Attr(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}

// Publisher delivers a message and returns the broker-assigned id once the
// broker has acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

// HandlerFunc processes one delivered message. A nil return acks the
// message; an error nacks it so the broker redelivers.
type HandlerFunc func(ctx context.Context, msg Message) error

// Subscriber blocks delivering messages from topics to handler until ctx is
// cancelled or a subscription fails.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, handler HandlerFunc) error
	Close() error
}

// SubscriptionName is the per-consumer-group subscription for a topic.
func SubscriptionName(topic, group string) string {
	topic = strings.TrimSpace(topic)
	group = strings.TrimSpace(group)
	if group == "" {
		return topic
	}
	return fmt.Sprintf("%s-%s", topic, group)
}
