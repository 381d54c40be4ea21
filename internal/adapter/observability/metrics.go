// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// CircuitBreakerStatus tracks the state of each named CircuitBreaker
	// (labels: breaker name, operation).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)

	// AggregatorProcessedTotal counts ballots submitted to the batch
	// aggregator, by ballot variant.
	AggregatorProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_processed_total",
			Help: "Total number of ballots processed by the batch aggregator",
		},
		[]string{"variant"},
	)
	// AggregatorBatchesTotal counts aggregator batch flushes by variant and outcome.
	AggregatorBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_batches_total",
			Help: "Total number of aggregator batch flushes by outcome",
		},
		[]string{"variant", "outcome"},
	)
	// AggregatorBatchLatency records the duration of aggregator batch flushes by variant.
	AggregatorBatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_batch_duration_seconds",
			Help:    "Aggregator batch flush duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"variant"},
	)
	// AggregatorPending is a gauge of ballots buffered in the aggregator, by variant.
	AggregatorPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aggregator_pending",
			Help: "Number of ballots currently buffered in the aggregator",
		},
		[]string{"variant"},
	)

	// ConsumerMessagesTotal counts stream messages processed by subject and outcome.
	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Total number of stream messages processed by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)
	// ConsumerDLQPromotionsTotal counts messages moved to the dead-letter subject.
	ConsumerDLQPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_dlq_promotions_total",
			Help: "Total number of messages promoted to the dead-letter subject",
		},
		[]string{"subject"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(AggregatorProcessedTotal)
	prometheus.MustRegister(AggregatorBatchesTotal)
	prometheus.MustRegister(AggregatorBatchLatency)
	prometheus.MustRegister(AggregatorPending)
	prometheus.MustRegister(ConsumerMessagesTotal)
	prometheus.MustRegister(ConsumerDLQPromotionsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}

// AggregatorMetrics implements aggregator.Metrics over the package's
// Prometheus collectors.
type AggregatorMetrics struct{}

// IncTotalProcessed increments the total-processed counter for variant by n.
func (AggregatorMetrics) IncTotalProcessed(variant string, n int) {
	AggregatorProcessedTotal.WithLabelValues(variant).Add(float64(n))
}

// IncSuccessfulBatches increments the successful batch counter for variant.
func (AggregatorMetrics) IncSuccessfulBatches(variant string) {
	AggregatorBatchesTotal.WithLabelValues(variant, "success").Inc()
}

// IncFailedBatches increments the failed batch counter for variant.
func (AggregatorMetrics) IncFailedBatches(variant string) {
	AggregatorBatchesTotal.WithLabelValues(variant, "failure").Inc()
}

// ObserveBatchLatency records a batch flush duration for variant.
func (AggregatorMetrics) ObserveBatchLatency(variant string, d time.Duration) {
	AggregatorBatchLatency.WithLabelValues(variant).Observe(d.Seconds())
}

// SetPending sets the current aggregator buffer depth for variant.
func (AggregatorMetrics) SetPending(variant string, n int) {
	AggregatorPending.WithLabelValues(variant).Set(float64(n))
}

// RecordConsumerMessage records a processed stream message outcome
// ("ack", "retry", "dlq").
func RecordConsumerMessage(subject, outcome string) {
	ConsumerMessagesTotal.WithLabelValues(subject, outcome).Inc()
}

// RecordDLQPromotion records a message promoted to the dead-letter subject.
func RecordDLQPromotion(subject string) {
	ConsumerDLQPromotionsTotal.WithLabelValues(subject).Inc()
}
