package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors. All record methods
// are nil-safe so components can run without metrics in tests.
//
// Metrics:
//   - arbiter_decisions_total: governance decisions by effect
//   - arbiter_ledger_appends_total: audit records appended, by result
//   - arbiter_ledger_checkpoints_total: Merkle checkpoints built
//   - arbiter_ledger_verify_failures_total: integrity verification failures
//   - arbiter_overrides_total: override transitions by outcome
//   - arbiter_http_request_duration_seconds: HTTP latency by route and status
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal      *prometheus.CounterVec
	ledgerAppendsTotal  *prometheus.CounterVec
	checkpointsTotal    prometheus.Counter
	verifyFailuresTotal prometheus.Counter
	overridesTotal      *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "decisions_total",
				Help:      "Total governance decisions by effect",
			},
			[]string{"effect"},
		),

		ledgerAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "ledger_appends_total",
				Help:      "Total audit ledger appends",
			},
			[]string{"result"},
		),

		checkpointsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "ledger_checkpoints_total",
				Help:      "Total Merkle checkpoints built",
			},
		),

		verifyFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "ledger_verify_failures_total",
				Help:      "Total ledger integrity verification failures",
			},
		),

		overridesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "overrides_total",
				Help:      "Total override transitions by outcome",
			},
			[]string{"outcome"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arbiter",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisionsTotal,
		m.ledgerAppendsTotal,
		m.checkpointsTotal,
		m.verifyFailuresTotal,
		m.overridesTotal,
		m.httpRequestDuration,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordDecision(effect string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(effect).Inc()
}

func (m *Metrics) RecordLedgerAppend(result string) {
	if m == nil {
		return
	}
	m.ledgerAppendsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointsTotal.Inc()
}

func (m *Metrics) RecordVerifyFailure() {
	if m == nil {
		return
	}
	m.verifyFailuresTotal.Inc()
}

func (m *Metrics) RecordOverride(outcome string) {
	if m == nil {
		return
	}
	m.overridesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
}
