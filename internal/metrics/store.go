// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreTxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_store_tx_retries_total",
		Help: "Total number of transaction retries after transient failures",
	})

	StoreTxFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_store_tx_failures_total",
		Help: "Total number of transactions abandoned after exhausting retries",
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consultease_breaker_state",
		Help: "Circuit breaker state per component (0=closed 1=half-open 2=open)",
	}, []string{"component"})

	breakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_breaker_trips_total",
		Help: "Circuit breaker trips by component and reason",
	}, []string{"component", "reason"})

	AuditRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_audit_records_total",
		Help: "Audit records written by category",
	}, []string{"category"})
)

// SetBreakerState publishes the breaker state for a component as a gauge.
func SetBreakerState(component, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(component).Set(v)
}

// RecordBreakerTrip counts one breaker trip with a concrete reason.
func RecordBreakerTrip(component, reason string) {
	breakerTripsTotal.WithLabelValues(component, reason).Inc()
}
