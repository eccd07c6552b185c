// Package metrics holds the Prometheus collectors for the relay and exposes
// them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomchat"

var (
	// RoomsActive tracks live rooms. Registries adjust it by delta, so it sums
	// every registry in the process.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms currently held by the registry.",
	})

	// RoomsCreated counts CreateRoom calls.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "Rooms created since start.",
	})

	// RoomsPruned counts empty rooms removed by prune sweeps.
	RoomsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_pruned_total",
		Help:      "Empty rooms removed by the reaper.",
	})

	// JoinFailures counts rejected joins, labelled by reason.
	JoinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "join_failures_total",
		Help:      "Rejected join attempts by reason.",
	}, []string{"reason"})

	// SessionsActive tracks registered websocket sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Connected websocket sessions.",
	})

	// Broadcasts counts room messages handed to the router.
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Room messages fanned out.",
	})

	// Deliveries counts frames pushed onto member queues.
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Frames pushed onto member outboxes by broadcasts.",
	})

	// OutboxDropped counts frames evicted from full outboxes.
	OutboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_dropped_total",
		Help:      "Queued frames discarded because an outbox was full.",
	})

	// ProtocolErrors counts error replies, labelled by kind.
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Error replies sent to clients by kind.",
	}, []string{"kind"})
)

// Handler exposes the default registry at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
