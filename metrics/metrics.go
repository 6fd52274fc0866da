// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SettlementRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_runs_total",
		Help: "Daily settlement runs by final status.",
	}, []string{"status"})

	SettlementStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_step_failures_total",
		Help: "Settlement steps that reported an error.",
	}, []string{"step"})

	PayrollSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_syncs_total",
		Help: "Payroll recomputations by trigger.",
	}, []string{"trigger"})

	PayrollAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_adjustments_total",
		Help: "Payroll total changes recorded as adjustments.",
	}, []string{"reason"})

	CapitalOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capital_operations_total",
		Help: "Capital ledger movements by entry type.",
	}, []string{"type"})

	InstallmentPayments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "installment_payments_total",
		Help: "Installment payments applied to payroll.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
