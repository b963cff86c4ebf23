package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	PolicyDecisions  *prometheus.CounterVec
	ApprovalsPending prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "policy_decisions_total",
				Help:      "Total tool-call decisions by outcome",
			},
			[]string{"outcome"}, // outcome=allow/deny/approval
		),
		ApprovalsPending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "approvals_pending",
				Help:      "Pending approvals created by this process and not yet resolved",
			},
		),
	}
}

// registerAuditWrites exposes the recorder's append count as a counter.
func registerAuditWrites(reg prometheus.Registerer, writes func() uint64) {
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "toolgate",
			Name:      "audit_writes_total",
			Help:      "Total audit entries appended to the hash chain",
		},
		func() float64 { return float64(writes()) },
	))
}

// Decision implements rpc.Observer.
func (m *Metrics) Decision(outcome string) {
	m.PolicyDecisions.WithLabelValues(outcome).Inc()
}

// PendingCreated implements rpc.Observer.
func (m *Metrics) PendingCreated() {
	m.ApprovalsPending.Inc()
}

// PendingResolved is called by the approval callback path once a pending
// record reaches a terminal state.
func (m *Metrics) PendingResolved() {
	m.ApprovalsPending.Dec()
}
