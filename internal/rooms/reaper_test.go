package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReaper_SweepRemovesEmptyRooms verifies Sweep removes only empty rooms.
func TestReaper_SweepRemovesEmptyRooms(t *testing.T) {
	reg := NewRegistry()
	reaper := NewReaper(reg, time.Hour, 0, nil)

	empty := reg.CreateRoom()
	busy := reg.CreateRoom()
	require.NoError(t, reg.JoinRoom(busy, member("a")))

	assert.Equal(t, []string{empty}, reaper.Sweep())

	reg.LeaveRoom(busy, "a")
	assert.Equal(t, []string{busy}, reaper.Sweep())
	assert.Empty(t, reaper.Sweep())
}

// TestReaper_GraceKeepsFreshRooms verifies a grace period protects new rooms.
func TestReaper_GraceKeepsFreshRooms(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	reg := NewRegistry(WithClock(clock.Now))
	reaper := NewReaper(reg, time.Hour, time.Minute, nil)

	id := reg.CreateRoom()
	assert.Empty(t, reaper.Sweep())

	clock.mu.Lock()
	clock.now = clock.now.Add(2 * time.Minute)
	clock.mu.Unlock()

	assert.Equal(t, []string{id}, reaper.Sweep())
}

// TestReaper_RunStopsWithContext verifies Run sweeps on its ticker and stops on cancel.
func TestReaper_RunStopsWithContext(t *testing.T) {
	reg := NewRegistry()
	reaper := NewReaper(reg, 5*time.Millisecond, 0, nil)
	id := reg.CreateRoom()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := reg.Room(id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestNewReaperDefaults checks interval and grace fallbacks.
func TestNewReaperDefaults(t *testing.T) {
	reaper := NewReaper(NewRegistry(), 0, -time.Second, nil)
	assert.Equal(t, DefaultReapInterval, reaper.interval)
	assert.Zero(t, reaper.grace)
}

// TestReaper_GraceUsesRegistryClock verifies the idle cutoff is computed on
// the same clock that stamps last_active.
func TestReaper_GraceUsesRegistryClock(t *testing.T) {
	past := &fakeClock{now: time.Unix(0, 0)}
	reg := NewRegistry(WithClock(past.Now))
	reaper := NewReaper(reg, time.Hour, time.Hour, nil)

	id := reg.CreateRoom()

	// Against the wall clock a room stamped in 1970 would look long idle.
	assert.Empty(t, reaper.Sweep())
	_, ok := reg.Room(id)
	assert.True(t, ok)
}
