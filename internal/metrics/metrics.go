// Package metrics exposes Prometheus gauges/counters for the server's
// room/client/command activity: operational visibility independent of
// any particular feature surface the server exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphrelay_rooms_active",
		Help: "Number of rooms currently held in memory.",
	})

	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphrelay_clients_connected",
		Help: "Number of currently connected clients across all rooms.",
	})

	CommandsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphrelay_commands_applied_total",
		Help: "Total number of commands successfully applied to a room's replica.",
	})

	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphrelay_snapshot_failures_total",
		Help: "Total number of failed snapshot writes.",
	})
)
