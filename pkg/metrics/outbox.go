package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the dispatcher loop.
type OutboxMetrics struct {
	published   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	casLost     prometheus.Counter
	quarantined *prometheus.CounterVec
	backlog     prometheus.Gauge
	parked      prometheus.Gauge
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox rows published and marked sent.",
	}, []string{"event_type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Publish attempts that failed and were left for retry.",
	}, []string{"event_type"})
	casLost := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_mark_sent_conflicts_total",
		Help: "Rows another dispatcher marked sent first.",
	})
	quarantined := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_quarantined_total",
		Help: "Rows moved to the quarantine ledger.",
	}, []string{"reason"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_backlog_rows",
		Help: "Unsent rows older than the lag threshold at the last check.",
	})
	parked := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_quarantined_rows",
		Help: "Rows currently parked in quarantine.",
	})
	reg.MustRegister(published, failures, casLost, quarantined, backlog, parked)
	return &OutboxMetrics{
		published:   published,
		failures:    failures,
		casLost:     casLost,
		quarantined: quarantined,
		backlog:     backlog,
		parked:      parked,
	}
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncPublishFailure(eventType string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncCASLost() {
	if m == nil || m.casLost == nil {
		return
	}
	m.casLost.Inc()
}

func (m *OutboxMetrics) IncQuarantined(reason string) {
	if m == nil || m.quarantined == nil {
		return
	}
	m.quarantined.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) SetBacklog(rows int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(rows))
}

func (m *OutboxMetrics) SetQuarantined(rows int64) {
	if m == nil || m.parked == nil {
		return
	}
	m.parked.Set(float64(rows))
}
