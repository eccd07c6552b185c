// Package rooms holds the shared room table, the broadcast router that fans
// messages out to room members, and the reaper that removes empty rooms.
package rooms

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// MaxRoomSize is the default membership cap of a room.
const MaxRoomSize = 15

// Errors returned by JoinRoom and CloseRoom.
var (
	// ErrRoomNotFound means no live room has the requested id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomClosed means the room exists but no longer accepts joins.
	ErrRoomClosed = errors.New("room is closed")
	// ErrRoomFull means the room already holds its maximum membership.
	ErrRoomFull = errors.New("room is full")
)

// Queue is the outbound side of a connection. Push must not block.
type Queue interface {
	Push(frame []byte) bool
}

// Member is a session's entry in a room. The queue is referenced, not owned.
type Member struct {
	ID       string
	Username string
	Queue    Queue
}

type room struct {
	id         string
	isOpen     bool
	createdAt  time.Time
	lastActive time.Time
	members    []Member

	// deliverMu orders concurrent broadcasts into this room. It is never
	// held together with the registry lock.
	deliverMu sync.Mutex
}

func (r *room) touch(now time.Time) {
	if now.After(r.lastActive) {
		r.lastActive = now
	}
}

func (r *room) info() RoomInfo {
	names := make([]string, len(r.members))
	for i, m := range r.members {
		names[i] = m.Username
	}
	return RoomInfo{
		ID:         r.id,
		Open:       r.isOpen,
		Members:    len(r.members),
		Usernames:  names,
		CreatedAt:  r.createdAt,
		LastActive: r.lastActive,
	}
}

// RoomInfo is a point-in-time copy of a room's state.
type RoomInfo struct {
	ID         string    `json:"id"`
	Open       bool      `json:"open"`
	Members    int       `json:"members"`
	Usernames  []string  `json:"usernames"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Registry maps room ids to rooms. Every operation holds the single registry
// lock for its whole duration.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	maxRoomSize int
	now         func() time.Time
	newID       func() string
	log         *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxRoomSize overrides MaxRoomSize. Non-positive values are ignored.
func WithMaxRoomSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxRoomSize = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces the UUID room id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithLogger sets the logger used for room lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[string]*room),
		maxRoomSize: MaxRoomSize,
		now:         time.Now,
		newID:       uuid.NewString,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRoomSize reports the membership cap applied by JoinRoom.
func (r *Registry) MaxRoomSize() int {
	return r.maxRoomSize
}

// CreateRoom inserts an empty open room under a fresh id.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.rooms[id]; taken; _, taken = r.rooms[id] {
		id = r.newID()
	}

	now := r.now()
	r.rooms[id] = &room{
		id:         id,
		isOpen:     true,
		createdAt:  now,
		lastActive: now,
	}
	metrics.RoomsCreated.Inc()
	metrics.RoomsActive.Inc()
	r.log.Debug("room created", "room_id", id)
	return id
}

// JoinRoom appends m to the room's members.
func (r *Registry) JoinRoom(roomID string, m Member) error {
	return r.JoinRoomWithAck(roomID, m, nil)
}

// JoinRoomWithAck is JoinRoom that also pushes ack onto m's queue before m
// becomes visible to broadcasts, so ack is the first frame m sees from the
// room. Nothing is pushed when the join fails or ack is nil.
func (r *Registry) JoinRoomWithAck(roomID string, m Member, ack []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !rm.isOpen {
		return ErrRoomClosed
	}
	if len(rm.members) >= r.maxRoomSize {
		return ErrRoomFull
	}

	if ack != nil && m.Queue != nil {
		m.Queue.Push(ack)
	}
	rm.members = append(rm.members, m)
	rm.touch(r.now())
	r.log.Debug("room joined", "room_id", roomID, "user_id", m.ID, "members", len(rm.members))
	return nil
}

// LeaveRoom removes every member with memberID. Absent rooms and members are
// ignored.
func (r *Registry) LeaveRoom(roomID, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	kept := rm.members[:0]
	for _, m := range rm.members {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	// Clear the tail so removed queues are not kept reachable.
	for i := len(kept); i < len(rm.members); i++ {
		rm.members[i] = Member{}
	}
	rm.members = kept
	rm.touch(r.now())
	r.log.Debug("room left", "room_id", roomID, "user_id", memberID, "members", len(rm.members))
}

// PruneEmpty removes every room without members and returns their ids.
func (r *Registry) PruneEmpty() []string {
	return r.prune(func(*room) bool { return true })
}

// PruneIdle removes empty rooms whose last activity is before cutoff.
func (r *Registry) PruneIdle(cutoff time.Time) []string {
	return r.prune(func(rm *room) bool { return rm.lastActive.Before(cutoff) })
}

func (r *Registry) prune(eligible func(*room) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, rm := range r.rooms {
		if len(rm.members) == 0 && eligible(rm) {
			delete(r.rooms, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		metrics.RoomsPruned.Add(float64(len(removed)))
		metrics.RoomsActive.Sub(float64(len(removed)))
	}
	return removed
}

// CloseRoom stops a room from accepting joins. Current members stay.
func (r *Registry) CloseRoom(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	rm.isOpen = false
	return nil
}

// CloseAll closes every room.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rm := range r.rooms {
		rm.isOpen = false
	}
}

// Room returns a snapshot of one room.
func (r *Registry) Room(roomID string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return rm.info(), true
}

// Rooms returns a snapshot of every room, in no particular order.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm.info())
	}
	return out
}

// Stats reports the number of rooms and the total membership.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rm := range r.rooms {
		members += len(rm.members)
	}
	return len(r.rooms), members
}

// recipients copies the member list of a room for delivery and marks the
// room active.
func (r *Registry) recipients(roomID string) ([]Member, *sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	rm.touch(r.now())
	members := make([]Member, len(rm.members))
	copy(members, rm.members)
	return members, &rm.deliverMu, nil
}
