package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	settlementOutcomes *prometheus.CounterVec
	walletCalls        *prometheus.HistogramVec
	walletStatus       *prometheus.CounterVec
	divergences        *prometheus.CounterVec
	reconcileRuns      *prometheus.CounterVec
	reconciledTotal    prometheus.Counter
}

// New registers the collectors on reg. A nil *Metrics is valid and records
// nothing.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		settlementOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seamless",
				Subsystem: "settlement",
				Name:      "outcomes_total",
				Help:      "Settlement outcomes partitioned by provider, kind and outcome.",
			},
			[]string{"provider", "kind", "outcome"},
		),
		walletCalls: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "seamless",
				Subsystem: "wallet",
				Name:      "rpc_duration_seconds",
				Help:      "Wallet RPC latency partitioned by method and gRPC code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
		walletStatus: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seamless",
				Subsystem: "wallet",
				Name:      "status_total",
				Help:      "Wallet status codes returned per method.",
			},
			[]string{"method", "status"},
		),
		divergences: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seamless",
				Subsystem: "settlement",
				Name:      "divergences_total",
				Help:      "Transactions accepted by the wallet whose local commit failed.",
			},
			[]string{"provider"},
		),
		reconcileRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seamless",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation runs partitioned by result.",
			},
			[]string{"result"},
		),
		reconciledTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "seamless",
				Subsystem: "reconcile",
				Name:      "resolved_total",
				Help:      "Divergences resolved by the reconciler.",
			},
		),
	}
}

func (m *Metrics) ObserveSettlement(provider, kind, outcome string) {
	if m == nil {
		return
	}
	m.settlementOutcomes.WithLabelValues(provider, kind, outcome).Inc()
}

func (m *Metrics) ObserveWalletCall(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.walletCalls.WithLabelValues(method, code).Observe(d.Seconds())
}

func (m *Metrics) ObserveWalletStatus(method, status string) {
	if m == nil {
		return
	}
	m.walletStatus.WithLabelValues(method, status).Inc()
}

func (m *Metrics) ObserveDivergence(provider string) {
	if m == nil {
		return
	}
	m.divergences.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveReconcile(resolved int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reconcileRuns.WithLabelValues("error").Inc()
		return
	}
	m.reconcileRuns.WithLabelValues("success").Inc()
	if resolved > 0 {
		m.reconciledTotal.Add(float64(resolved))
	}
}
