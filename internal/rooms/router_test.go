package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

func roomMessage(roomID, text string) string {
	frame, _ := protocol.Encode(protocol.RoomMessage{RoomID: roomID, From: "A", Text: text})
	return string(frame)
}

// TestRouter_DeliverReachesEveryMemberIncludingSender verifies fan-out in order to every member.
func TestRouter_DeliverReachesEveryMemberIncludingSender(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()

	queues := make([]*mockQueue, 3)
	for i := range queues {
		queues[i] = &mockQueue{}
		require.NoError(t, reg.JoinRoom(id, Member{ID: fmt.Sprint(i), Username: "u", Queue: queues[i]}))
	}

	for _, text := range []string{"one", "two", "three"} {
		n, err := router.Deliver(id, protocol.RoomMessage{RoomID: id, From: "A", Text: text})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}

	want := []string{roomMessage(id, "one"), roomMessage(id, "two"), roomMessage(id, "three")}
	for i, q := range queues {
		assert.Equal(t, want, q.received(), "member %d", i)
	}
}

// TestRouter_DeliverStaysInsideRoom verifies other rooms receive nothing.
func TestRouter_DeliverStaysInsideRoom(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	a := reg.CreateRoom()
	b := reg.CreateRoom()

	inA := &mockQueue{}
	inB := &mockQueue{}
	require.NoError(t, reg.JoinRoom(a, Member{ID: "1", Queue: inA}))
	require.NoError(t, reg.JoinRoom(b, Member{ID: "2", Queue: inB}))

	_, err := router.Deliver(a, protocol.RoomMessage{RoomID: a, From: "A", Text: "hi"})
	require.NoError(t, err)

	assert.Len(t, inA.received(), 1)
	assert.Empty(t, inB.received())
}

// TestRouter_DeliverUnknownRoom returns ErrRoomNotFound for a missing room.
func TestRouter_DeliverUnknownRoom(t *testing.T) {
	router := NewRouter(NewRegistry(), nil)

	n, err := router.Deliver("missing", protocol.RoomMessage{Text: "hi"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, n)
}

// TestRouter_DeliverSkipsClosedQueues skips queues that refuse a push.
func TestRouter_DeliverSkipsClosedQueues(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()

	live := &mockQueue{}
	dead := &mockQueue{}
	dead.close()
	require.NoError(t, reg.JoinRoom(id, Member{ID: "live", Queue: live}))
	require.NoError(t, reg.JoinRoom(id, Member{ID: "dead", Queue: dead}))
	require.NoError(t, reg.JoinRoom(id, Member{ID: "nil"}))

	n, err := router.Deliver(id, protocol.RoomMessage{RoomID: id, From: "A", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, live.received(), 1)
}

// TestRouter_DeliverRefreshesLastActive verifies a broadcast marks the room active.
func TestRouter_DeliverRefreshesLastActive(t *testing.T) {
	clock := &fakeClock{}
	reg := NewRegistry(WithClock(clock.Now))
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()
	require.NoError(t, reg.JoinRoom(id, member("a")))
	before, _ := reg.Room(id)

	_, err := router.Deliver(id, protocol.RoomMessage{RoomID: id, Text: "hi"})
	require.NoError(t, err)

	after, _ := reg.Room(id)
	assert.True(t, after.LastActive.After(before.LastActive))
}

// blockingQueue parks the first push until released, to prove pushes happen
// outside the registry lock.
type blockingQueue struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (q *blockingQueue) Push([]byte) bool {
	q.once.Do(func() {
		close(q.entered)
		<-q.release
	})
	return true
}

// TestRouter_SlowQueueDoesNotHoldRegistry verifies pushes happen outside the registry lock.
func TestRouter_SlowQueueDoesNotHoldRegistry(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()

	slow := &blockingQueue{entered: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, reg.JoinRoom(id, Member{ID: "slow", Queue: slow}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = router.Deliver(id, protocol.RoomMessage{RoomID: id, Text: "hi"})
	}()
	<-slow.entered

	// Registry operations proceed while the push is parked.
	other := reg.CreateRoom()
	require.NoError(t, reg.JoinRoom(other, member("b")))
	reg.LeaveRoom(id, "nobody")

	close(slow.release)
	<-done
}

// TestRouter_ConcurrentSendersShareOneOrder verifies every member sees one interleaving.
func TestRouter_ConcurrentSendersShareOneOrder(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()

	queues := make([]*mockQueue, 4)
	for i := range queues {
		queues[i] = &mockQueue{}
		require.NoError(t, reg.JoinRoom(id, Member{ID: fmt.Sprint(i), Queue: queues[i]}))
	}

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := router.Deliver(id, protocol.RoomMessage{RoomID: id, From: fmt.Sprint(s), Text: fmt.Sprint(i)})
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	first := queues[0].received()
	assert.Len(t, first, 100)
	for _, q := range queues[1:] {
		assert.Equal(t, first, q.received())
	}
}

// TestRouter_JoinAckPrecedesBroadcasts verifies a member joining during a
// stream of broadcasts always sees its ack first.
func TestRouter_JoinAckPrecedesBroadcasts(t *testing.T) {
	const joiners = 200

	reg := NewRegistry(WithMaxRoomSize(joiners + 1))
	router := NewRouter(reg, nil)
	id := reg.CreateRoom()
	require.NoError(t, reg.JoinRoom(id, member("sender")))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 5000 {
			select {
			case <-stop:
				return
			default:
				_, _ = router.Deliver(id, protocol.RoomMessage{RoomID: id, From: "A", Text: "tick"})
			}
		}
	}()

	queues := make([]*mockQueue, joiners)
	for i := range queues {
		queues[i] = &mockQueue{}
		require.NoError(t, reg.JoinRoomWithAck(id, Member{ID: fmt.Sprint(i), Queue: queues[i]}, []byte("ack")))
	}
	close(stop)
	wg.Wait()

	for i, q := range queues {
		frames := q.received()
		require.NotEmpty(t, frames)
		assert.Equal(t, "ack", frames[0], "member %d", i)
	}
}
