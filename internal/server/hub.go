// Package server coordinates session registration, room state, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

// Hub tracks live sessions and owns the room registry, broadcast router and
// reaper they share. Sessions are registered and unregistered through
// channels served by Run.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg      Config
	log      *slog.Logger
	registry *rooms.Registry
	router   *rooms.Router
	reaper   *rooms.Reaper
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// Stats is the JSON body of the /stats endpoint.
type Stats struct {
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
	Members  int `json:"members"`
}

// NewHub creates a Hub from cfg. The returned Hub must be started with Run.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	cfg = cfg.Sanitize()
	if logger == nil {
		logger = slog.Default()
	}

	registry := rooms.NewRegistry(
		rooms.WithMaxRoomSize(cfg.MaxRoomSize),
		rooms.WithLogger(logger),
	)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		cfg:        cfg,
		log:        logger,
		registry:   registry,
		router:     rooms.NewRouter(registry, logger),
		reaper:     rooms.NewReaper(registry, cfg.ReapInterval, cfg.EmptyRoomGrace, logger),
		origins:    origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// Registry exposes the room registry.
func (h *Hub) Registry() *rooms.Registry {
	return h.registry
}

// Run starts the hub's main event loop and the periodic reaper. It returns
// after Shutdown has been called and every session connection was closed.
func (h *Hub) Run() {
	defer close(h.done)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.reaper.Run(h.ctx)
	}()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case session := <-h.register:
			if session == nil {
				h.log.Warn("received nil session registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.sessions[session] = true
			count := len(h.sessions)
			h.mutex.Unlock()
			metrics.SessionsActive.Set(float64(count))
			h.log.Info("session registered", "addr", session.addr, "sessions", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				session.writePump()
			}()
			go func() {
				defer h.wg.Done()
				session.readPump()
			}()

		case session := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.sessions[session]
			delete(h.sessions, session)
			count := len(h.sessions)
			h.mutex.Unlock()

			// The session has already left its room, so the queue can go.
			session.outbox.Close()
			if ok {
				metrics.SessionsActive.Set(float64(count))
				h.log.Info("session unregistered", "addr", session.addr, "sessions", count)
			}
		}
	}
}

// registerSession hands a session to Run, which starts its pumps. It reports
// false when the hub is shutting down.
func (h *Hub) registerSession(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregisterSession releases a session's outbox, directly if Run has exited.
func (h *Hub) unregisterSession(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
		s.outbox.Close()
	}
}

// shutdownSessions stops new joins and closes all active connections.
func (h *Hub) shutdownSessions() {
	h.log.Info("shutting down all session connections")
	h.registry.CloseAll()

	h.mutex.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for session := range h.sessions {
		sessions = append(sessions, session)
	}
	h.mutex.Unlock()

	for _, session := range sessions {
		if session.conn == nil {
			continue
		}
		if err := session.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("error closing session connection", "addr", session.addr, "err", err)
		}
	}

	h.log.Info("closed session connections", "count", len(sessions))
}

// Shutdown stops the hub and waits for every session goroutine to finish, or
// for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.log.Warn("hub shutdown deadline reached, some goroutines may still be running")
		return ctx.Err()
	}
}

// Stats reports live sessions, rooms and total room membership.
func (h *Hub) Stats() Stats {
	h.mutex.RLock()
	sessions := len(h.sessions)
	h.mutex.RUnlock()

	roomCount, members := h.registry.Stats()
	return Stats{Sessions: sessions, Rooms: roomCount, Members: members}
}
