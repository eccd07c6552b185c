package rooms

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is used when NewReaper is given a non-positive interval.
const DefaultReapInterval = 30 * time.Second

// Reaper removes empty rooms, periodically from Run and on demand from Sweep.
type Reaper struct {
	registry *Registry
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewReaper creates a Reaper. With a zero grace every empty room is removed;
// with a positive grace an empty room survives until it has been inactive for
// that long, measured on the registry's clock.
func NewReaper(registry *Registry, interval, grace time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if grace < 0 {
		grace = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		grace:    grace,
		now:      registry.now,
		log:      logger,
	}
}

// Sweep prunes once and returns the removed room ids.
func (r *Reaper) Sweep() []string {
	var removed []string
	if r.grace == 0 {
		removed = r.registry.PruneEmpty()
	} else {
		removed = r.registry.PruneIdle(r.now().Add(-r.grace))
	}
	for _, id := range removed {
		r.log.Info("room pruned", "room_id", id)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
