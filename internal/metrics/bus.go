// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_bus_published_total",
		Help: "Total number of messages published to the broker",
	})

	BusReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_bus_received_total",
		Help: "Total number of messages received from the broker",
	})

	BusPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_bus_publish_errors_total",
		Help: "Total number of failed publish attempts",
	})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_bus_dropped_total",
		Help: "Total number of outbound messages dropped by reason",
	}, []string{"reason"}) // reason=queue_full|shutdown

	BusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_bus_queue_depth",
		Help: "Current depth of the outbound publish queue",
	})

	BusConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_bus_connected",
		Help: "Whether the broker link is up (1) or down (0)",
	})

	BusReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_bus_reconnects_total",
		Help: "Total number of broker reconnect attempts",
	})

	BusSpoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_bus_spool_depth",
		Help: "Number of dispatch intents parked in the durable spool",
	})
)

// IncBusDrop records one dropped outbound message with a concrete reason.
func IncBusDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(reason).Inc()
}
