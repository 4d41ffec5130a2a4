package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequests           *prometheus.CounterVec
	GatewayRequests        *prometheus.CounterVec
	GatewayLatency         *prometheus.HistogramVec
	ToolRequests           *prometheus.CounterVec
	ToolLatency            *prometheus.HistogramVec
	LedgerMutations        *prometheus.CounterVec
	ReconciliationFailures prometheus.Counter
	RunLogWriteFailures    prometheus.Counter
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total API requests by route and status code.",
			}, []string{"route", "code"}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_gateway_requests_total",
				Help:      "Total payment gateway calls by operation and status.",
			}, []string{"op", "status"}),
			GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payment_gateway_request_duration_seconds",
				Help:      "Latency distribution for payment gateway calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			ToolRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_webhook_requests_total",
				Help:      "Total tool webhook calls by tool and outcome.",
			}, []string{"tool", "outcome"}),
			ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_webhook_request_duration_seconds",
				Help:      "Latency distribution for tool webhook calls.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
			}, []string{"tool"}),
			LedgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_mutations_total",
				Help:      "Credit balance mutations by kind and outcome.",
			}, []string{"kind", "outcome"}),
			ReconciliationFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_reconciliation_failures_total",
				Help:      "Captured payments whose credits could not be applied.",
			}),
			RunLogWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runlog_write_failures_total",
				Help:      "Run log entries that could not be persisted.",
			}),
		}

		prometheus.MustRegister(
			metricsInstance.HTTPRequests,
			metricsInstance.GatewayRequests,
			metricsInstance.GatewayLatency,
			metricsInstance.ToolRequests,
			metricsInstance.ToolLatency,
			metricsInstance.LedgerMutations,
			metricsInstance.ReconciliationFailures,
			metricsInstance.RunLogWriteFailures,
		)
	})
	return metricsInstance
}

func (m *Metrics) ObserveHTTP(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

func (m *Metrics) ObserveGateway(op, status string, started time.Time) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(op, status).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveTool(tool, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ToolRequests.WithLabelValues(tool, outcome).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveLedger(kind, outcome string) {
	if m == nil {
		return
	}
	m.LedgerMutations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncReconciliationFailure() {
	if m == nil {
		return
	}
	m.ReconciliationFailures.Inc()
}

func (m *Metrics) IncRunLogWriteFailure() {
	if m == nil {
		return
	}
	m.RunLogWriteFailures.Inc()
}
