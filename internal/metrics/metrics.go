// Package metrics provides Prometheus instrumentation for Harrier.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harrier",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsGenerated counts synthetic transactions by scoring source.
	TransactionsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "transactions_generated_total",
			Help:      "Total synthetic transactions produced by scoring source.",
		},
		[]string{"source"},
	)

	// TransactionsProcessed counts decided transactions by status (ALRT/NALT).
	TransactionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "transactions_processed_total",
			Help:      "Total transactions decided by status.",
		},
		[]string{"status"},
	)

	// DecisionDuration observes the time spent deciding one transaction.
	DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harrier",
		Name:      "decision_duration_seconds",
		Help:      "Time to decide, catalog and publish one transaction.",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
	})

	// QueueDepth tracks transactions waiting between generator and worker.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "harrier",
		Name:      "queue_depth",
		Help:      "Transactions waiting in the bounded queue.",
	})

	// CatalogSize tracks transactions held in memory.
	CatalogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "harrier",
		Name:      "catalog_size",
		Help:      "Transactions held in the in-memory catalog.",
	})

	// ClassifierUpdates counts retrains by result.
	ClassifierUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "classifier_updates_total",
			Help:      "Classifier retrains by result.",
		},
		[]string{"result"},
	)

	// ClassifierFallbacks counts predictions that fell back to the neutral estimate.
	ClassifierFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "classifier_fallbacks_total",
		Help:      "Predictions answered with the neutral fallback probability.",
	})

	// ImportRecords counts imported records by result (accepted/rejected).
	ImportRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "import_records_total",
			Help:      "Imported records by result.",
		},
		[]string{"result"},
	)

	// AlertsObserved counts alert events received from the event bus by scorer.
	AlertsObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "alerts_observed_total",
			Help:      "Alert events received from the event bus by scorer.",
		},
		[]string{"scorer"},
	)

	// CacheLookups counts assessment cache reads by layer (local/redis) and
	// result (hit/miss/expired/error).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "cache_lookups_total",
			Help:      "Assessment cache reads by layer and result.",
		},
		[]string{"layer", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsGenerated,
		TransactionsProcessed,
		DecisionDuration,
		QueueDepth,
		CatalogSize,
		ClassifierUpdates,
		ClassifierFallbacks,
		ImportRecords,
		AlertsObserved,
		CacheLookups,
	)
}

// Middleware records request metrics keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(ww.Status())).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code == 0:
		return "2xx"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
