package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_store_operations_total",
			Help: "Total number of usage store operations",
		},
		[]string{"backend", "operation", "status"}, // status: success|error
	)

	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tokenmeter_store_latency_seconds",
			Help:    "Usage store operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	// Ingest metrics
	IngestedTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_ingested_tokens_total",
			Help: "Tokens accepted by the spend endpoint",
		},
		[]string{"category"}, // category: input_text|output_text|input_audio|output_audio
	)

	SpendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_spend_requests_total",
			Help: "Spend endpoint requests by action and HTTP status",
		},
		[]string{"action", "code"},
	)

	// Tokenizer metrics
	TokenizerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_tokenizer_requests_total",
			Help: "Tokenizer requests by outcome",
		},
		[]string{"outcome"}, // outcome: ok|fallback|error
	)

	// Reconciliation metrics
	ReconcileOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_reconcile_operations_total",
			Help: "Client reconciliation pushes and pulls by outcome",
		},
		[]string{"operation", "status"}, // operation: push|pull, status: success|error|skipped
	)

	// Publisher metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenmeter_events_published_total",
			Help: "Usage events published to the broker",
		},
		[]string{"topic", "status"},
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(StoreOperations)
		prometheus.MustRegister(StoreLatency)

		prometheus.MustRegister(IngestedTokens)
		prometheus.MustRegister(SpendRequests)

		prometheus.MustRegister(TokenizerRequests)
		prometheus.MustRegister(ReconcileOperations)
		prometheus.MustRegister(EventsPublished)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStoreOperation records a store call
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreOperations.WithLabelValues(backend, operation, status(err)).Inc()
	StoreLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordIngestedTokens adds n accepted tokens to a category
func RecordIngestedTokens(category string, n int64) {
	if n <= 0 {
		return
	}
	IngestedTokens.WithLabelValues(category).Add(float64(n))
}

// RecordSpendRequest counts a spend endpoint response
func RecordSpendRequest(action string, code int) {
	SpendRequests.WithLabelValues(action, http.StatusText(code)).Inc()
}

// RecordTokenizerRequest counts a tokenizer outcome
func RecordTokenizerRequest(outcome string) {
	TokenizerRequests.WithLabelValues(outcome).Inc()
}

// RecordReconcile counts a push or pull
func RecordReconcile(operation string, err error) {
	ReconcileOperations.WithLabelValues(operation, status(err)).Inc()
}

// RecordReconcileSkipped counts a push or pull that never reached the network
func RecordReconcileSkipped(operation string) {
	ReconcileOperations.WithLabelValues(operation, "skipped").Inc()
}

// RecordEventPublished counts a broker publish
func RecordEventPublished(topic string, err error) {
	EventsPublished.WithLabelValues(topic, status(err)).Inc()
}
