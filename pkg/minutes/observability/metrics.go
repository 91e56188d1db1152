package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the pipeline.
type Metrics struct {
	JobsCreatedTotal    prometheus.Counter
	TransitionsTotal    *prometheus.CounterVec
	StageSeconds        *prometheus.HistogramVec
	StageFailuresTotal  *prometheus.CounterVec
	ProviderCallsTotal  *prometheus.CounterVec
	ProviderSeconds     *prometheus.HistogramVec
	QueueDepth          prometheus.Gauge
	DLQItemsTotal       *prometheus.CounterVec
	ValidationScore     *prometheus.HistogramVec
	ReviewDecisionTotal *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "minutes_jobs_created_total",
			Help: "Jobs accepted by the API",
		}),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_job_transitions_total",
				Help: "Committed job status transitions",
			},
			[]string{"from", "to"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minutes_stage_seconds",
				Help:    "Stage latency",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"stage"},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_stage_failures_total",
				Help: "Stage failures by error code",
			},
			[]string{"stage", "code"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_provider_calls_total",
				Help: "Provider calls after retries",
			},
			[]string{"kind", "provider", "status"},
		),
		ProviderSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minutes_provider_seconds",
				Help:    "Provider call latency including retries",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
			},
			[]string{"kind", "provider"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minutes_queue_depth",
			Help: "Messages waiting in the job queue",
		}),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_dlq_items_total",
				Help: "Messages moved to the dead letter queue",
			},
			[]string{"reason"},
		),
		ValidationScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "minutes_validation_score",
				Help:    "Validation scores per dimension",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
			[]string{"dimension"},
		),
		ReviewDecisionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_review_decisions_total",
				Help: "Validation outcomes: review required or auto-approved",
			},
			[]string{"decision"},
		),
	}
}

// ObserveProviderCall implements providers.Observer.
func (m *Metrics) ObserveProviderCall(kind, provider string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(kind, provider, status).Inc()
	m.ProviderSeconds.WithLabelValues(kind, provider).Observe(elapsed.Seconds())
}

// RecordTransition counts a committed transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStage records a stage run. code is empty on success.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration, code string) {
	m.StageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if code != "" {
		m.StageFailuresTotal.WithLabelValues(stage, code).Inc()
	}
}

// RecordValidation records the scores and review decision of a report.
func (m *Metrics) RecordValidation(grammar, locale, coherence, overall float64, review bool) {
	m.ValidationScore.WithLabelValues("grammar").Observe(grammar)
	m.ValidationScore.WithLabelValues("locale").Observe(locale)
	m.ValidationScore.WithLabelValues("coherence").Observe(coherence)
	m.ValidationScore.WithLabelValues("overall").Observe(overall)
	decision := "auto_approved"
	if review {
		decision = "review_required"
	}
	m.ReviewDecisionTotal.WithLabelValues(decision).Inc()
}
