package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(generationsProcessedTotal, generationsEnqueuedTotal, queuePending, backendLatencySeconds)
}

var generationsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generations_processed_total",
		Help: "Total number of generation requests processed, labeled by final status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var generationsEnqueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "generations_enqueued_total",
		Help: "Total number of generation requests accepted into the queue.",
	},
)

var queuePending = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "generation_queue_pending",
		Help: "Number of generation requests currently waiting in the queue.",
	},
)

var backendLatencySeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "generation_backend_latency_seconds",
		Help:    "Latency of calls to the image generation backend.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	},
)

func IncGenerationProcessed(status string) {
	generationsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncGenerationEnqueued() { generationsEnqueuedTotal.Inc() }

func SetQueuePending(n int) { queuePending.Set(float64(n)) }

func ObserveBackendLatency(seconds float64) { backendLatencySeconds.Observe(seconds) }

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
