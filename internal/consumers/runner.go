package consumers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paysaga-backend/pkg/broker"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/metrics"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/registry"
)

// Result labels recorded per message.
const (
	resultProcessed = "processed"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultDropped   = "dropped"
	resultRetry     = "retry"
)

type processedCache interface {
	IsProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Runner adapts a Handler to broker.HandlerFunc.
type Runner struct {
	name       string
	handler    Handler
	decoders   decoder
	cache      processedCache
	partitions *Partitioner
	logg       *logger.Logger
	metrics    *metrics.ConsumerMetrics
	supported  map[enums.OutboxEventType]struct{}
}

// RunnerOptions carries the optional collaborators.
type RunnerOptions struct {
	Cache   processedCache
	Lanes   int
	Metrics *metrics.ConsumerMetrics
}

// NewRunner validates dependencies and builds a Runner for one consumer group.
func NewRunner(name string, handler Handler, decoders decoder, logg *logger.Logger, opts RunnerOptions) (*Runner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("consumer name required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	supported := make(map[enums.OutboxEventType]struct{})
	for _, eventType := range handler.EventTypes() {
		supported[eventType] = struct{}{}
	}
	return &Runner{
		name:       strings.TrimSpace(name),
		handler:    handler,
		decoders:   decoders,
		cache:      opts.Cache,
		partitions: NewPartitioner(opts.Lanes),
		logg:       logg,
		metrics:    opts.Metrics,
		supported:  supported,
	}, nil
}

// Handle is a broker.HandlerFunc. A returned error nacks the message.
func (r *Runner) Handle(ctx context.Context, msg broker.Message) error {
	started := time.Now()
	eventType := msg.Attr(broker.AttrEventType)
	logCtx := r.logg.WithEvent(ctx, msg.Attr(broker.AttrEventID), eventType, msg.Attr(broker.AttrAggregateID))
	logCtx = r.logg.WithFields(logCtx, map[string]any{"consumer": r.name, "topic": msg.Topic})
	defer func() {
		r.metrics.ObserveDuration(eventType, time.Since(started))
	}()

	if _, ok := r.supported[enums.OutboxEventType(eventType)]; !ok {
		r.logg.Info(logCtx, "event not handled by consumer")
		r.metrics.IncHandled(eventType, resultSkipped)
		return nil
	}

	event, err := decodeMessage(msg, r.decoders)
	if err != nil {
		// redelivery cannot fix a malformed body
		reason := "malformed"
		if errors.Is(err, registry.ErrNoDecoder) {
			reason = "no_decoder"
		}
		r.logg.Error(r.logg.WithField(logCtx, "drop_reason", reason), "dropping undecodable message", err)
		r.metrics.IncHandled(eventType, resultDropped)
		return nil
	}

	if r.cache != nil {
		seen, cerr := r.cache.IsProcessed(ctx, r.name, event.ID)
		if cerr != nil {
			r.logg.Warn(logCtx, "idempotency cache unavailable, falling back to inbox")
		} else if seen {
			r.logg.Info(logCtx, "event already processed")
			r.metrics.IncHandled(eventType, resultDuplicate)
			return nil
		}
	}

	err = r.partitions.Do(event.OrderingKey(), func() error {
		return r.handler.Handle(logCtx, event)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrUnsupportedEvent):
		r.logg.Info(logCtx, "event not handled by consumer")
		r.metrics.IncHandled(eventType, resultSkipped)
		return nil
	case IsRetryable(err):
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "handler failed, message will be redelivered")
		r.metrics.IncHandled(eventType, resultRetry)
		return err
	default:
		r.logg.Error(logCtx, "handler rejected event", err)
		r.metrics.IncHandled(eventType, resultDropped)
		return nil
	}

	if r.cache != nil {
		if cerr := r.cache.MarkProcessed(ctx, r.name, event.ID); cerr != nil {
			r.logg.Warn(logCtx, "failed to cache processed event id")
		}
	}
	r.metrics.IncHandled(eventType, resultProcessed)
	return nil
}

// IsRetryable reports whether a handler error should nack the message.
// Context cancellation and untyped errors are retried; typed errors follow
// their code metadata.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pkgerrors.IsRetryable(err)
}

type topicResolver interface {
	Topic(eventType enums.OutboxEventType) string
}

// Topics lists the distinct topics carrying the handler's event types.
func (r *Runner) Topics(resolver topicResolver) []string {
	seen := make(map[string]struct{})
	topics := make([]string, 0, len(r.supported))
	for _, eventType := range r.handler.EventTypes() {
		topic := resolver.Topic(eventType)
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

// Run subscribes to the handler's topics and blocks until ctx ends.
func (r *Runner) Run(ctx context.Context, sub broker.Subscriber, resolver topicResolver) error {
	topics := r.Topics(resolver)
	if len(topics) == 0 {
		return fmt.Errorf("consumer %s has no topics", r.name)
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"consumer": r.name,
		"topics":   topics,
	}), "consumer subscribed")
	return sub.Subscribe(ctx, topics, r.Handle)
}
