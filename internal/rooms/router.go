package rooms

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Router fans server messages out to the members of a room.
type Router struct {
	registry *Registry
	log      *slog.Logger
}

// NewRouter creates a Router reading membership from registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, log: logger}
}

// Deliver encodes msg once and pushes it onto the queue of every current
// member of roomID, in membership order. It returns the number of queues that
// accepted the frame. The registry lock is released before any push.
func (r *Router) Deliver(roomID string, msg protocol.ServerMessage) (int, error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("deliver to %s: %w", roomID, err)
	}

	members, order, err := r.registry.recipients(roomID)
	if err != nil {
		return 0, err
	}

	order.Lock()
	defer order.Unlock()

	delivered := 0
	for _, m := range members {
		if m.Queue == nil {
			continue
		}
		if m.Queue.Push(frame) {
			delivered++
			continue
		}
		r.log.Debug("queue closed, frame not delivered", "room_id", roomID, "user_id", m.ID)
	}

	metrics.Broadcasts.Inc()
	metrics.Deliveries.Add(float64(delivered))
	return delivered, nil
}
