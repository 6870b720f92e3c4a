package jobs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters/gauges/histograms for the job
// subsystem, labeled by queue and (where relevant) job name.
type Metrics struct {
	registry     *prometheus.Registry
	enqueued     *prometheus.CounterVec
	completed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	pending      *prometheus.GaugeVec
	active       *prometheus.GaugeVec
	workers      prometheus.Gauge
	duration     *prometheus.HistogramVec
}

// NewMetrics registers the job subsystem's collectors against a fresh
// Prometheus registry and returns the bound Metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_jobs_enqueued_total",
			Help: "Total jobs enqueued, by queue.",
		}, []string{"queue"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_jobs_completed_total",
			Help: "Total jobs completed successfully, by queue.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_jobs_failed_total",
			Help: "Total job attempt failures, by queue.",
		}, []string{"queue"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_jobs_retried_total",
			Help: "Total jobs rescheduled for retry, by queue.",
		}, []string{"queue"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_jobs_dead_lettered_total",
			Help: "Total jobs moved to the dead letter queue, by queue.",
		}, []string{"queue"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arcana_jobs_pending",
			Help: "Current ready-to-run job count, by queue.",
		}, []string{"queue"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arcana_jobs_active",
			Help: "Current in-flight job count, by queue.",
		}, []string{"queue"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arcana_workers_active",
			Help: "Current count of workers passing their heartbeat liveness check.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arcana_job_duration_seconds",
			Help:    "Job handler execution duration in seconds, by queue and job name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "name"}),
	}

	reg.MustRegister(
		m.enqueued, m.completed, m.failed, m.retried, m.deadLettered,
		m.pending, m.active, m.workers, m.duration,
	)
	return m
}

// RecordEnqueued increments the enqueue counter for queue.
func (m *Metrics) RecordEnqueued(queue string) {
	m.enqueued.WithLabelValues(queue).Inc()
}

// RecordCompleted increments the completion counter and observes duration
// for queue/name.
func (m *Metrics) RecordCompleted(queue, name string, duration time.Duration) {
	m.completed.WithLabelValues(queue).Inc()
	m.duration.WithLabelValues(queue, name).Observe(duration.Seconds())
}

// RecordFailed increments the failure counter for queue, and the retry
// counter too if willRetry.
func (m *Metrics) RecordFailed(queue string, willRetry bool) {
	m.failed.WithLabelValues(queue).Inc()
	if willRetry {
		m.retried.WithLabelValues(queue).Inc()
	}
}

// RecordDeadLettered increments the dead-letter counter for queue.
func (m *Metrics) RecordDeadLettered(queue string) {
	m.deadLettered.WithLabelValues(queue).Inc()
}

// SetPending sets the current pending gauge for queue.
func (m *Metrics) SetPending(queue string, n float64) {
	m.pending.WithLabelValues(queue).Set(n)
}

// SetActive sets the current active gauge for queue.
func (m *Metrics) SetActive(queue string, n float64) {
	m.active.WithLabelValues(queue).Set(n)
}

// SetActiveWorkers sets the count of workers currently passing liveness.
func (m *Metrics) SetActiveWorkers(n int) {
	m.workers.Set(float64(n))
}

// Handler returns an HTTP handler serving these metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
