// Package server manages individual websocket sessions: the read and write
// pumps, the per-connection protocol state machine, and rate limiting.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Error replies sent to clients.
const (
	msgRoomNotFound   = "Room not found"
	msgRoomClosed     = "Room is closed"
	msgRoomFull       = "Room is full"
	msgJoinFailed     = "Could not join room"
	msgSendHelloFirst = "Send hello first"
	msgAlreadyAuthed  = "Already authenticated"
	msgNotInRoom      = "Join a room before sending messages"
	msgBadUsername    = "Invalid username"
	msgMalformed      = "Malformed message"
	msgRateLimited    = "Rate limit exceeded"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateInRoom
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateInRoom:
		return "in_room"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one websocket connection. Its protocol state is owned by the
// read pump; the write pump only drains the outbox.
type Session struct {
	conn              *websocket.Conn
	hub               *Hub
	addr              string
	outbox            *Outbox
	limiter           *rate.Limiter
	rateLimit         RateLimitConfig
	maxMessageSize    int64
	maxUsernameLength int
	log               *slog.Logger

	state     sessionState
	userID    string
	username  string
	roomID    string
	closeOnce sync.Once
}

// NewSession creates a Session for conn. conn may be nil in tests that drive
// the state machine directly.
func NewSession(conn *websocket.Conn, hub *Hub, addr string) *Session {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Session{
		conn:              conn,
		hub:               hub,
		addr:              addr,
		outbox:            NewOutbox(cfg.OutboxSize),
		limiter:           newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:         cfg.RateLimit,
		maxMessageSize:    cfg.MaxMessageSize,
		maxUsernameLength: cfg.MaxUsernameLength,
		log:               hub.log.With("addr", addr),
		state:             stateUnauthenticated,
	}
}

// Outbox returns the session's outbound queue.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// handle runs one inbound frame through the state machine.
func (s *Session) handle(raw []byte) {
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		s.log.Debug("malformed message", "err", err)
		detail := strings.TrimPrefix(err.Error(), protocol.ErrMalformed.Error()+": ")
		s.replyError("malformed", msgMalformed+": "+detail)
		return
	}

	if s.state == stateUnauthenticated {
		hello, ok := msg.(protocol.Hello)
		if !ok {
			s.replyError("unauthenticated", msgSendHelloFirst)
			return
		}
		s.handleHello(hello)
		return
	}

	switch m := msg.(type) {
	case protocol.Hello:
		s.replyError("already_authenticated", msgAlreadyAuthed)
	case protocol.CreateRoom:
		s.handleCreateRoom()
	case protocol.JoinRoom:
		s.handleJoinRoom(m.RoomID)
	case protocol.ChatMessage:
		s.handleChatMessage(m.Text)
	}
}

func (s *Session) handleHello(m protocol.Hello) {
	name := strings.TrimSpace(m.Username)
	if name == "" || utf8.RuneCountInString(name) > s.maxUsernameLength {
		s.replyError("invalid_username", msgBadUsername)
		return
	}

	s.userID = uuid.NewString()
	s.username = name
	s.state = stateAuthenticated
	s.log = s.log.With("user_id", s.userID)
	s.log.Info("session authenticated", "username", name)
	s.reply(protocol.Welcome{UserID: s.userID})
}

func (s *Session) handleCreateRoom() {
	roomID := s.hub.registry.CreateRoom()
	s.log.Info("room created", "room_id", roomID)
	s.reply(protocol.RoomCreated{RoomID: roomID})
}

// handleJoinRoom switches the session into target. The previous room, if
// any, is left first; on failure the session tries to get back into it,
// rejoining at the end of its member list.
func (s *Session) handleJoinRoom(target string) {
	if s.state == stateInRoom && s.roomID == target {
		s.reply(protocol.JoinedRoom{RoomID: target})
		return
	}

	// The registry queues the ack itself so it lands before any broadcast.
	ack, err := protocol.Encode(protocol.JoinedRoom{RoomID: target})
	if err != nil {
		s.log.Error("encoding reply", "type", protocol.TypeJoinedRoom, "err", err)
		return
	}

	previous := ""
	if s.state == stateInRoom {
		previous = s.roomID
		s.leaveCurrentRoom()
	}

	err = s.hub.registry.JoinRoomWithAck(target, s.member(), ack)
	if err != nil {
		if previous != "" {
			s.restoreRoom(previous)
			s.hub.reaper.Sweep()
		}
		s.replyJoinError(target, err)
		return
	}

	s.state = stateInRoom
	s.roomID = target
	if previous != "" {
		s.hub.reaper.Sweep()
	}
	s.log.Info("joined room", "room_id", target)
}

func (s *Session) restoreRoom(roomID string) {
	if err := s.hub.registry.JoinRoom(roomID, s.member()); err != nil {
		s.log.Info("could not return to previous room", "room_id", roomID, "err", err)
		return
	}
	s.state = stateInRoom
	s.roomID = roomID
}

func (s *Session) replyJoinError(roomID string, err error) {
	kind, text := "join_failed", msgJoinFailed
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		kind, text = "room_not_found", msgRoomNotFound
	case errors.Is(err, rooms.ErrRoomClosed):
		kind, text = "room_closed", msgRoomClosed
	case errors.Is(err, rooms.ErrRoomFull):
		kind, text = "room_full", msgRoomFull
	}
	metrics.JoinFailures.WithLabelValues(kind).Inc()
	s.log.Info("join rejected", "room_id", roomID, "err", err)
	s.replyError(kind, text)
}

func (s *Session) handleChatMessage(text string) {
	if s.state != stateInRoom {
		s.replyError("not_in_room", msgNotInRoom)
		return
	}

	msg := protocol.RoomMessage{RoomID: s.roomID, From: s.username, Text: text}
	if _, err := s.hub.router.Deliver(s.roomID, msg); err != nil {
		s.log.Warn("broadcast failed", "room_id", s.roomID, "err", err)
		if errors.Is(err, rooms.ErrRoomNotFound) {
			s.state = stateAuthenticated
			s.roomID = ""
			s.replyError("room_not_found", msgRoomNotFound)
		}
	}
}

func (s *Session) member() rooms.Member {
	return rooms.Member{ID: s.userID, Username: s.username, Queue: s.outbox}
}

// leaveCurrentRoom drops the session's membership. The caller decides when
// to sweep.
func (s *Session) leaveCurrentRoom() {
	if s.state != stateInRoom {
		return
	}
	s.hub.registry.LeaveRoom(s.roomID, s.userID)
	s.log.Info("left room", "room_id", s.roomID)
	s.state = stateAuthenticated
	s.roomID = ""
}

// close leaves the current room, sweeps empty rooms and only then releases
// the outbox, so no room ever references a dropped queue.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.state == stateInRoom {
			s.leaveCurrentRoom()
			s.hub.reaper.Sweep()
		}
		s.state = stateClosed
		s.hub.unregisterSession(s)
	})
}

func (s *Session) reply(msg protocol.ServerMessage) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encoding reply", "type", msg.ServerType(), "err", err)
		return
	}
	s.outbox.Push(frame)
}

func (s *Session) replyError(kind, text string) {
	metrics.ProtocolErrors.WithLabelValues(kind).Inc()
	s.reply(protocol.ErrorReply{Message: text})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("error setting initial read deadline", "err", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.Warn("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// logReadError classifies the error that ended the read loop.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("message exceeded maximum size", "limit", s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Info("session disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Info("session connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.log.Warn("unexpected websocket close", "err", err)
	default:
		s.log.Warn("websocket read error", "err", err)
	}
}

// checkRateLimit reports whether the frame may be processed, replying with
// an error when it may not.
func (s *Session) checkRateLimit() bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	s.log.Debug("rate limit exceeded; discarding message",
		"burst", s.rateLimit.Burst, "interval", s.rateLimit.RefillInterval)
	s.replyError("rate_limited", msgRateLimited)
	return false
}

func (s *Session) readPump() {
	defer func() {
		s.close()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing connection in readPump", "err", err)
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.checkRateLimit() {
			continue
		}

		s.handle(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-s.outbox.C():
		return s.handleFrame(frame, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("error closing connection in writePump", "err", err)
	}
}

// handleFrame writes one outbound frame and returns false if the connection
// should be closed. Every frame carries exactly one message.
func (s *Session) handleFrame(frame []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn("error setting write deadline", "err", err)
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("error writing message", "err", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (s *Session) writeCloseMessage() bool {
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		s.log.Warn("error writing close message", "err", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn("error setting write deadline for ping", "err", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Warn("error writing ping message", "err", err)
		return false
	}
	return true
}

// isExpectedCloseError reports whether err is the normal result of tearing a
// connection down.
func isExpectedCloseError(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE)
}
