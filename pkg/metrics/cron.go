package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks monitoring job runs and cycles skipped because
// another instance held the lock.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_runs_total",
		Help: "Cron job runs by job and result (ok, error, panic).",
	}, []string{"job", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Cron job run duration.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"job"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_cycles_skipped_total",
		Help: "Cron cycles skipped because the lock was held elsewhere.",
	})
	reg.MustRegister(runs, duration, skipped)
	return &CronJobMetrics{runs: runs, duration: duration, skipped: skipped}
}

// ObserveRun records one finished run. result is one of ok, error or panic.
func (c *CronJobMetrics) ObserveRun(job, result string, took time.Duration) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, normalizeLabel(result)).Inc()
	c.duration.WithLabelValues(job).Observe(took.Seconds())
}

func (c *CronJobMetrics) IncSkipped() {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.Inc()
}

// normalizeLabel keeps blank label values out of the series set.
func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
