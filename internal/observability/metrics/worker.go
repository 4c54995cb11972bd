package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docsign/internal/core/domain"
)

// WorkerMetrics observes signing batches. It implements ports.SigningObserver.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	documentsTotal   *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec
	batchesTotal     *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	tagsApplied      *prometheus.CounterVec
	tagsMissing      *prometheus.CounterVec
	batchesInFlight  prometheus.Gauge
	acksTotal        *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "documents_total",
			Help:      "Total signed documents by status.",
		},
		[]string{"service", "status"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "document_duration_seconds",
			Help:      "Per-document signing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "batches_total",
			Help:      "Total signing requests by aggregate status.",
		},
		[]string{"service", "status"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "batch_duration_seconds",
			Help:      "Signing request duration in seconds by aggregate status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	tagsApplied := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "tag_instances_applied_total",
			Help:      "Total replaced tag instances by kind.",
		},
		[]string{"service", "kind"},
	)
	tagsMissing := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "tags_missing_total",
			Help:      "Total mapped tags absent from their document by kind.",
		},
		[]string{"service", "kind"},
	)
	batchesInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "batches_in_flight",
			Help:      "Number of signing requests being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	acksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsign",
			Subsystem: "worker",
			Name:      "acknowledgments_total",
			Help:      "Total published acknowledgments by result.",
		},
		[]string{"service", "result"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docsign",
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		documentsTotal,
		documentDuration,
		batchesTotal,
		batchDuration,
		tagsApplied,
		tagsMissing,
		batchesInFlight,
		acksTotal,
		breakerState,
	)

	return &WorkerMetrics{
		registry:         registry,
		service:          service,
		documentsTotal:   documentsTotal,
		documentDuration: documentDuration,
		batchesTotal:     batchesTotal,
		batchDuration:    batchDuration,
		tagsApplied:      tagsApplied,
		tagsMissing:      tagsMissing,
		batchesInFlight:  batchesInFlight,
		acksTotal:        acksTotal,
		breakerState:     breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) TagApplied(kind string, instances int) {
	if instances <= 0 {
		return
	}
	m.tagsApplied.WithLabelValues(m.service, kind).Add(float64(instances))
}

func (m *WorkerMetrics) TagMissing(kind string) {
	m.tagsMissing.WithLabelValues(m.service, kind).Inc()
}

func (m *WorkerMetrics) DocumentFinished(status domain.DocumentStatus, seconds float64) {
	m.documentsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.documentDuration.WithLabelValues(m.service, string(status)).Observe(seconds)
}

func (m *WorkerMetrics) BatchFinished(status domain.BatchStatus, seconds float64) {
	m.batchesTotal.WithLabelValues(m.service, string(status)).Inc()
	m.batchDuration.WithLabelValues(m.service, string(status)).Observe(seconds)
}

func (m *WorkerMetrics) StartBatch() {
	m.batchesInFlight.Inc()
}

func (m *WorkerMetrics) FinishBatch() {
	m.batchesInFlight.Dec()
}

func (m *WorkerMetrics) AcknowledgmentPublished(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.acksTotal.WithLabelValues(m.service, result).Inc()
}

// BreakerStateChanged matches resilience.StateObserver.
func (m *WorkerMetrics) BreakerStateChanged(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(to))
}
