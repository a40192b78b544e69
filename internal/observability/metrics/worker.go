package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	documentChunks  *prometheus.HistogramVec
	queueLag        *prometheus.HistogramVec
	queuePending    *prometheus.GaugeVec
	queueProcessing *prometheus.GaugeVec
	queueRetried    *prometheus.GaugeVec
	queueDropped    *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by final status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by final status.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	documentChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "document_chunks",
			Help:      "Distribution of chunks produced per completed document.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	queuePending := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "queue_pending_jobs",
			Help:      "Jobs waiting in the queue by backend.",
		},
		[]string{"service", "backend"},
	)
	queueProcessing := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "queue_processing_jobs",
			Help:      "Jobs currently held by queue consumers.",
		},
		[]string{"service", "backend"},
	)
	queueRetried := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "queue_retried_jobs",
			Help:      "Lifetime jobs re-enqueued for retry, as reported by the queue.",
		},
		[]string{"service", "backend"},
	)
	queueDropped := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kbp",
			Subsystem: "worker",
			Name:      "queue_dropped_jobs",
			Help:      "Lifetime jobs dropped after exhausting attempts, as reported by the queue.",
		},
		[]string{"service", "backend"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, documentChunks, queueLag, queuePending, queueProcessing, queueRetried, queueDropped)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		documentChunks:  documentChunks,
		queueLag:        queueLag,
		queuePending:    queuePending,
		queueProcessing: queueProcessing,
		queueRetried:    queueRetried,
		queueDropped:    queueDropped,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := "completed"
	if err != nil {
		status = "failed"
	}

	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// ObserveDocumentChunks records the chunk count of a completed document. It
// is fed from completion events because only the pipeline knows the count.
func (m *WorkerMetrics) ObserveDocumentChunks(service string, count int) {
	m.documentChunks.WithLabelValues(service).Observe(float64(count))
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

// SetQueueDepth publishes a queue stats snapshot; callers poll Stats on a
// ticker rather than instrumenting the queue itself.
func (m *WorkerMetrics) SetQueueDepth(service, backend string, pending, processing int) {
	m.queuePending.WithLabelValues(service, backend).Set(float64(pending))
	m.queueProcessing.WithLabelValues(service, backend).Set(float64(processing))
}

// SetQueueTotals publishes the queue's lifetime retry/drop counters from the
// same polled snapshot.
func (m *WorkerMetrics) SetQueueTotals(service, backend string, retried, dropped uint64) {
	m.queueRetried.WithLabelValues(service, backend).Set(float64(retried))
	m.queueDropped.WithLabelValues(service, backend).Set(float64(dropped))
}
