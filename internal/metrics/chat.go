package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "llmgate"

// Chat Prometheus metrics.
var (
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Total number of chat requests by outcome",
		},
		[]string{"model", "variant", "status"}, // status: ok, error, cancelled
	)

	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend stream duration from open to terminal usage",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"model", "variant"},
	)

	BackendFirstTokenSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_first_token_seconds",
			Help:      "Latency until the first fragment arrives",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model", "variant"},
	)

	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total backend errors by class",
		},
		[]string{"model", "variant", "error_type"},
	)

	BackendFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fallback_total",
			Help:      "Structured requests served by the blocking fallback",
		},
		[]string{"model"},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by type",
		},
		[]string{"model", "type"}, // input, output, reasoning
	)

	CostCentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_cents_total",
			Help:      "Estimated cost in cents",
		},
		[]string{"model"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Requests denied by the quota gate",
		},
		[]string{"model", "kind"},
	)

	LedgerWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Usage increments that failed after a completed response",
		},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat streams currently in flight",
		},
	)
)

var chatMetricsRegistered bool

// RegisterChatMetrics registers Prometheus chat metrics. Must be called once from main.
func RegisterChatMetrics() {
	if chatMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		ChatRequestsTotal,
		BackendRequestDuration,
		BackendFirstTokenSeconds,
		BackendErrorsTotal,
		BackendFallbackTotal,
		TokensTotal,
		CostCentsTotal,
		QuotaDenialsTotal,
		LedgerWriteFailuresTotal,
		ActiveStreams,
	)
	chatMetricsRegistered = true
}
