// Package metrics exposes Prometheus collectors for ledger operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics groups the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	allocated  *prometheus.CounterVec
	lateFees   prometheus.Counter
	lockWait   prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome.",
		}, []string{"op", "outcome"}),
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loanledger",
			Name:      "allocated_amount_total",
			Help:      "Money allocated from payments, by bucket.",
		}, []string{"bucket"}),
		lateFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loanledger",
			Name:      "late_fees_charged_total",
			Help:      "Late fees charged to installments.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loanledger",
			Name:      "loan_lock_wait_seconds",
			Help:      "Time spent waiting for the per-loan lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	m.registry.MustRegister(m.operations, m.allocated, m.lateFees, m.lockWait)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Allocated(bucket string, amount decimal.Decimal) {
	if m == nil || amount.Sign() <= 0 {
		return
	}
	m.allocated.WithLabelValues(bucket).Add(amount.InexactFloat64())
}

func (m *Metrics) LateFeeCharged(amount decimal.Decimal) {
	if m == nil || amount.Sign() <= 0 {
		return
	}
	m.lateFees.Add(amount.InexactFloat64())
}

func (m *Metrics) LockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
