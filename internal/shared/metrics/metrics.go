package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docpipe"

var (
	registry = prometheus.NewRegistry()

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Accepted uploads by kind.",
		},
		[]string{"kind"},
	)
	uploadsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "uploads_rejected_total",
			Help:      "Rejected uploads by kind and reason.",
		},
		[]string{"kind", "reason"},
	)
	analysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by terminal status.",
		},
		[]string{"status"},
	)
	analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis duration in seconds by terminal status.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
	analysisInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "in_flight",
			Help:      "Analyses currently running.",
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Document ids waiting for a worker.",
		},
	)
	dispatchRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Dispatches refused by reason.",
		},
		[]string{"reason"},
	)
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	registry.MustRegister(
		uploadsTotal,
		uploadsRejectedTotal,
		analysisTotal,
		analysisDuration,
		analysisInFlight,
		queueDepth,
		dispatchRejectedTotal,
		providerCallsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IncUpload counts an accepted upload of the given kind ("document", "media").
func IncUpload(kind string) {
	uploadsTotal.WithLabelValues(kind).Inc()
}

// IncUploadRejected counts a refused upload.
func IncUploadRejected(kind, reason string) {
	uploadsRejectedTotal.WithLabelValues(kind, reason).Inc()
}

// AnalysisStarted marks one analysis as running.
func AnalysisStarted() {
	analysisInFlight.Inc()
}

// AnalysisFinished records a terminal status and its duration.
func AnalysisFinished(status string, d time.Duration) {
	analysisInFlight.Dec()
	analysisTotal.WithLabelValues(status).Inc()
	if d < 0 {
		d = 0
	}
	analysisDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetQueueDepth publishes the number of queued document ids.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncDispatchRejected counts a refused dispatch.
func IncDispatchRejected(reason string) {
	dispatchRejectedTotal.WithLabelValues(reason).Inc()
}

// IncProviderCall counts a provider call outcome ("ok", "error", "timeout", "circuit_open").
func IncProviderCall(provider, outcome string) {
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// Handler exposes the registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// Gatherer exposes the registry for tests and embedding.
func Gatherer() prometheus.Gatherer {
	return registry
}
