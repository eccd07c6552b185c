// Package server builds the per-connection token bucket that protects the
// relay from message floods.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows capacity messages per interval, with bursts of up to
// capacity.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(capacity) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), capacity)
}
