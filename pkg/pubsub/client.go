// Package pubsub adapts Google Cloud Pub/Sub v2 to the broker seam.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	topicsCollection        = "topics"
	subscriptionsCollection = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client publishes with ordering keys enabled and hands out group-bound
// subscribers. Publishers are cached per topic and flushed on Close.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	logg      *logger.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "gcp_project", projectID), "pubsub client initialized")
	}
	return &Client{
		client:     psClient,
		projectID:  projectID,
		cfg:        cfg,
		logg:       logg,
		publishers: map[string]*pubsub.Publisher{},
	}, nil
}

// Publish waits for the server ack. msg.Key becomes the ordering key; after a
// failed ordered publish the key is resumed so the dispatcher's retry is
// accepted instead of failing fast.
func (c *Client) Publish(ctx context.Context, msg broker.Message) (string, error) {
	publisher, err := c.publisher(msg.Topic)
	if err != nil {
		return "", err
	}
	id, err := publisher.Publish(ctx, &pubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.Key,
	}).Get(ctx)
	if err != nil {
		if msg.Key != "" {
			publisher.ResumePublish(msg.Key)
		}
		return "", fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return id, nil
}

func (c *Client) publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errNotInitialized
	}
	name := c.resourceName(topicsCollection, topic)
	if name == "" {
		return nil, fmt.Errorf("topic %q not configured", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[name]
	if !ok {
		p = c.client.Publisher(name)
		p.EnableMessageOrdering = true
		c.publishers[name] = p
	}
	return p, nil
}

// Subscriber binds the client to one consumer group. Each topic is read from
// the "<topic>-<group>" subscription.
func (c *Client) Subscriber(group string) *Subscriber {
	return &Subscriber{client: c, group: group}
}

type Subscriber struct {
	client *Client
	group  string
}

type receiver struct {
	topic string
	name  string
	sub   *pubsub.Subscriber
}

// Subscribe runs one Receive loop per topic. The first loop to fail cancels
// the others. Handler errors nack the message.
func (s *Subscriber) Subscribe(ctx context.Context, topics []string, handler broker.HandlerFunc) error {
	receivers, err := s.receivers(ctx, topics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range receivers {
		g.Go(func() error {
			err := r.sub.Receive(gctx, func(msgCtx context.Context, m *pubsub.Message) {
				herr := handler(msgCtx, broker.Message{
					Topic:      r.topic,
					Key:        m.OrderingKey,
					Data:       m.Data,
					Attributes: m.Attributes,
				})
				if herr != nil {
					m.Nack()
					return
				}
				m.Ack()
			})
			if err != nil {
				return fmt.Errorf("receive %s: %w", r.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Subscriber) receivers(ctx context.Context, topics []string) ([]receiver, error) {
	if s.client == nil || s.client.client == nil {
		return nil, errNotInitialized
	}
	var out []receiver
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		name := broker.SubscriptionName(topic, s.group)
		full := s.client.resourceName(subscriptionsCollection, name)
		if s.client.cfg.VerifySubscriptions {
			if err := s.client.checkSubscription(ctx, full); err != nil {
				return nil, err
			}
		}
		sub := s.client.client.Subscriber(full)
		if s.client.cfg.MaxOutstanding > 0 {
			sub.ReceiveSettings.MaxOutstandingMessages = s.client.cfg.MaxOutstanding
		}
		out = append(out, receiver{topic: topic, name: name, sub: sub})
	}
	if len(out) == 0 {
		return nil, errNoSubscriptions
	}
	return out, nil
}

func (s *Subscriber) Close() error {
	return nil
}

func (c *Client) checkSubscription(ctx context.Context, full string) error {
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("subscription %s does not exist", full)
	default:
		return fmt.Errorf("checking subscription %s: %w", full, err)
	}
}

// Ping looks up one topic through the admin API.
func (c *Client) Ping(ctx context.Context, topic string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: c.resourceName(topicsCollection, topic),
	})
	return err
}

// Close stops every cached publisher, flushing pending sends, then releases
// the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.publishers {
		p.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a short id to projects/<p>/<collection>/<id>. Names
// that are already fully qualified pass through.
func (c *Client) resourceName(collection, name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + collection + "/" + name
}
