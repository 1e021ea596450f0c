// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PresenceTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_presence_transitions_total",
		Help: "Faculty presence transitions by resulting status",
	}, []string{"status"}) // status=present|away

	FacultyPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_faculty_present",
		Help: "Number of faculty currently marked present",
	})

	GraceTimersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_presence_grace_timers_active",
		Help: "Number of faculty inside the departure grace window",
	})

	BeaconEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_beacon_events_total",
		Help: "Beacon sightings by resolution outcome",
	}, []string{"outcome"}) // outcome=matched|unknown|reassigned

	DeskSyncStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_desk_sync_stale",
		Help: "Number of desk units with a stale heartbeat",
	})

	RFIDScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_rfid_scans_total",
		Help: "RFID scans by lookup outcome",
	}, []string{"outcome"}) // outcome=matched|unknown|duplicate

	RFIDReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_rfid_reconnects_total",
		Help: "Total number of RFID reader reconnect attempts",
	})

	RFIDSimulationMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_rfid_simulation_mode",
		Help: "Whether the scanner is running in simulation mode (1) or on hardware (0)",
	})
)
