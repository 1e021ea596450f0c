// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsultationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_consultations_created_total",
		Help: "Total number of consultation requests created",
	})

	ConsultationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_consultation_transitions_total",
		Help: "Consultation state transitions by source and target state",
	}, []string{"from", "to"})

	ConsultationRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_consultation_rejects_total",
		Help: "Consultation transitions refused by the state table, by reason",
	}, []string{"reason"}) // reason=terminal|illegal|conflict

	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_dispatch_attempts_total",
		Help: "Consultation dispatch attempts by outcome",
	}, []string{"outcome"}) // outcome=delivered|queued|failed

	DispatchRepublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_dispatch_republished_total",
		Help: "Total number of dispatches republished by the sweeper",
	})

	DispatchExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_dispatch_exhausted_total",
		Help: "Total number of dispatches abandoned after the attempt cap",
	})

	SweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_sweeper_runs_total",
		Help: "Total number of dispatch sweeper passes",
	})

	PendingDispatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_pending_dispatches",
		Help: "Consultations awaiting delivery confirmation (last sweep)",
	})
)

// RecordTransition records one consultation state transition.
func RecordTransition(from, to string) {
	ConsultationTransitionsTotal.WithLabelValues(from, to).Inc()
}
