package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics tracks inbound message handling.
type ConsumerMetrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewConsumerMetrics registers the consumer metrics on the provided registerer.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Inbound messages by event type and result (processed, duplicate, skipped, dropped, retry).",
	}, []string{"event_type", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_seconds",
		Help:    "Time spent handling one inbound message.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(handled, duration)
	return &ConsumerMetrics{handled: handled, duration: duration}
}

func (m *ConsumerMetrics) IncHandled(eventType, result string) {
	if m == nil || m.handled == nil {
		return
	}
	m.handled.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *ConsumerMetrics) ObserveDuration(eventType string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(d.Seconds())
}
