// Package kafka adapts confluent-kafka-go to the broker seam. Records are
// keyed by aggregate id so one payment's events share a partition.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const flushTimeoutMS = 5000

// ConfigMap builds the librdkafka settings shared by producers and consumers.
func ConfigMap(cfg config.KafkaConfig) *ckafka.ConfigMap {
	cm := &ckafka.ConfigMap{
		"bootstrap.servers": strings.TrimSpace(cfg.Brokers),
		"client.id":         cfg.ClientID,
	}
	if cfg.SecurityProtocol != "" {
		_ = cm.SetKey("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		_ = cm.SetKey("sasl.mechanisms", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.SASLUsername)
		_ = cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

// Producer publishes envelopes with idempotent, fully acknowledged writes.
type Producer struct {
	producer *ckafka.Producer
	logg     *logger.Logger
}

func NewProducer(cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	cm := ConfigMap(cfg)
	_ = cm.SetKey("enable.idempotence", true)
	_ = cm.SetKey("acks", "all")
	p, err := ckafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &Producer{producer: p, logg: logg}, nil
}

// Publish blocks until the broker acknowledges the record or ctx ends.
func (p *Producer) Publish(ctx context.Context, msg broker.Message) (string, error) {
	topic := msg.Topic
	delivery := make(chan ckafka.Event, 1)
	err := p.producer.Produce(&ckafka.Message{
		TopicPartition: ckafka.TopicPartition{Topic: &topic, Partition: ckafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Data,
		Headers:        headersFrom(msg.Attributes),
	}, delivery)
	if err != nil {
		return "", fmt.Errorf("produce to %s: %w", topic, err)
	}
	select {
	case ev := <-delivery:
		record, ok := ev.(*ckafka.Message)
		if !ok {
			return "", fmt.Errorf("unexpected delivery event %T", ev)
		}
		if record.TopicPartition.Error != nil {
			return "", fmt.Errorf("deliver to %s: %w", topic, record.TopicPartition.Error)
		}
		return fmt.Sprintf("%s/%d/%d", topic, record.TopicPartition.Partition, record.TopicPartition.Offset), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if remaining := p.producer.Flush(flushTimeoutMS); remaining > 0 && p.logg != nil {
		p.logg.Warn(p.logg.WithField(context.Background(), "unflushed", remaining), "kafka producer closed with undelivered records")
	}
	p.producer.Close()
	return nil
}

// Subscriber reads topics as one consumer group. Offsets are committed after
// the handler succeeds; a failed record is re-read after a backoff.
type Subscriber struct {
	cfg     config.KafkaConfig
	group   string
	backoff time.Duration
	logg    *logger.Logger
}

func NewSubscriber(cfg config.KafkaConfig, group string, backoff time.Duration, logg *logger.Logger) (*Subscriber, error) {
	if strings.TrimSpace(group) == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Subscriber{cfg: cfg, group: group, backoff: backoff, logg: logg}, nil
}

func (s *Subscriber) Subscribe(ctx context.Context, topics []string, handler broker.HandlerFunc) error {
	cm := ConfigMap(s.cfg)
	_ = cm.SetKey("group.id", s.group)
	_ = cm.SetKey("enable.auto.commit", false)
	_ = cm.SetKey("auto.offset.reset", "earliest")
	if s.cfg.SessionTimeout > 0 {
		_ = cm.SetKey("session.timeout.ms", int(s.cfg.SessionTimeout.Milliseconds()))
	}
	consumer, err := ckafka.NewConsumer(cm)
	if err != nil {
		return fmt.Errorf("creating kafka consumer: %w", err)
	}
	defer consumer.Close()

	if err := consumer.SubscribeTopics(topics, nil); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}

	poll := int(s.cfg.PollTimeout.Milliseconds())
	if poll <= 0 {
		poll = 500
	}
	for ctx.Err() == nil {
		switch ev := consumer.Poll(poll).(type) {
		case *ckafka.Message:
			if err := handler(ctx, toBrokerMessage(ev)); err != nil {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"topic":     topicOf(ev),
					"partition": ev.TopicPartition.Partition,
					"offset":    int64(ev.TopicPartition.Offset),
					"error":     err.Error(),
				}), "kafka record nacked, seeking back")
				if !sleepCtx(ctx, s.backoff) {
					return nil
				}
				if serr := consumer.Seek(ev.TopicPartition, 0); serr != nil {
					return fmt.Errorf("seek %s: %w", topicOf(ev), serr)
				}
				continue
			}
			if _, err := consumer.CommitMessage(ev); err != nil {
				s.logg.Error(ctx, "kafka offset commit failed", err)
			}
		case ckafka.Error:
			if ev.IsFatal() {
				return ev
			}
			s.logg.Warn(s.logg.WithField(ctx, "error", ev.Error()), "kafka consumer error")
		}
	}
	return nil
}

func (s *Subscriber) Close() error {
	return nil
}

func toBrokerMessage(record *ckafka.Message) broker.Message {
	return broker.Message{
		Topic:      topicOf(record),
		Key:        string(record.Key),
		Data:       record.Value,
		Attributes: attributesFrom(record.Headers),
	}
}

func topicOf(record *ckafka.Message) string {
	if record.TopicPartition.Topic == nil {
		return ""
	}
	return *record.TopicPartition.Topic
}

func headersFrom(attrs map[string]string) []ckafka.Header {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]ckafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, ckafka.Header{Key: k, Value: []byte(attrs[k])})
	}
	return headers
}

func attributesFrom(headers []ckafka.Header) map[string]string {
	attrs := make(map[string]string, len(headers))
	for _, h := range headers {
		attrs[h.Key] = string(h.Value)
	}
	return attrs
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
