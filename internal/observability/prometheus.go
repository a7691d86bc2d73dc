package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation counters and duration histograms
// through a Prometheus registry.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusRecorder constructs a recorder and registers its collectors
// with reg. A nil registerer falls back to the default registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trialcore",
			Name:      "operations_total",
			Help:      "Simulation operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trialcore",
			Name:      "operation_duration_seconds",
			Help:      "Simulation operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
	}
	reg.MustRegister(r.operations, r.durations)
	return r
}

// Observe records one operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
