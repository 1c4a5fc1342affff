// Package connect builds the configured broker adapter for a process.
package connect

import (
	"context"
	"fmt"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/kafka"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/pubsub"
)

// Publisher is a broker publisher plus an optional readiness probe.
type Publisher struct {
	broker.Publisher
	Ping func(context.Context) error
}

// NewPublisher returns the Pub/Sub or Kafka publisher selected by PAYSAGA_BROKER.
func NewPublisher(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Publisher, error) {
	switch {
	case cfg.Broker.IsKafka():
		producer, err := kafka.NewProducer(cfg.Kafka, logg)
		if err != nil {
			return nil, err
		}
		return &Publisher{Publisher: producer}, nil
	case cfg.Broker.IsPubSub():
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		probe := cfg.Topics.PaymentInitiated
		return &Publisher{
			Publisher: client,
			Ping:      func(ctx context.Context) error { return client.Ping(ctx, probe) },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Broker.Kind)
	}
}

// NewSubscriber returns a subscriber bound to the service's consumer group.
// The returned closer releases the underlying client.
func NewSubscriber(ctx context.Context, cfg *config.Config, logg *logger.Logger) (broker.Subscriber, func() error, error) {
	group := cfg.Service.Group()
	switch {
	case cfg.Broker.IsKafka():
		sub, err := kafka.NewSubscriber(cfg.Kafka, group, cfg.Eventing.NackBackoff, logg)
		if err != nil {
			return nil, nil, err
		}
		return sub, sub.Close, nil
	case cfg.Broker.IsPubSub():
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		return client.Subscriber(group), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported broker %q", cfg.Broker.Kind)
	}
}
