package metrics

import "github.com/prometheus/client_golang/prometheus"

// SagaMetrics counts ledger outcomes and payment status transitions.
type SagaMetrics struct {
	ledgerOutcomes *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	attention      *prometheus.GaugeVec
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	ledgerOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger debit/credit/refund outcomes.",
	}, []string{"operation", "result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Applied payment status transitions.",
	}, []string{"from", "to"})
	attention := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payments_needing_attention",
		Help: "Payments stuck mid-saga or parked for manual intervention.",
	}, []string{"kind"})
	reg.MustRegister(ledgerOutcomes, transitions, attention)
	return &SagaMetrics{
		ledgerOutcomes: ledgerOutcomes,
		transitions:    transitions,
		attention:      attention,
	}
}

func (m *SagaMetrics) IncLedgerOutcome(operation, result string) {
	if m == nil || m.ledgerOutcomes == nil {
		return
	}
	m.ledgerOutcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

func (m *SagaMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *SagaMetrics) SetNeedingAttention(kind string, count int64) {
	if m == nil || m.attention == nil {
		return
	}
	m.attention.WithLabelValues(normalizeLabel(kind)).Set(float64(count))
}
