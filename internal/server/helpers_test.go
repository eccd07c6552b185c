package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

const testOrigin = "http://localhost:8080"

func discardLogger() *slog.Logger {
	return NewLogger(io.Discard, "error", "text")
}

// newRunningHub starts a hub with the default config adjusted by mutate and
// shuts it down when the test ends.
func newRunningHub(t *testing.T, mutate func(*Config)) *Hub {
	t.Helper()

	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	hub := NewHub(*cfg, discardLogger())
	go hub.Run()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Shutdown(ctx); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})
	return hub
}

// startTestServer serves the hub's routes and returns the ws:// URL of /ws.
func startTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()

	testServer := httptest.NewServer(SetupRoutes(hub))
	t.Cleanup(testServer.Close)
	return testServer, "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

// connectWebSocket dials url with the given Origin header; empty means none.
func connectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func mustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := connectWebSocket(url, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendClient(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()

	data, err := protocol.EncodeClient(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readServer(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := protocol.DecodeServer(data)
	require.NoError(t, err, "frame %s", data)
	return msg
}

// expectNoMessage fails if a frame arrives within timeout.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Errorf("expected no message, got %s", data)
	}
}

// hello authenticates conn and returns the assigned user id.
func hello(t *testing.T, conn *websocket.Conn, username string) string {
	t.Helper()

	sendClient(t, conn, protocol.Hello{Username: username})
	welcome, ok := readServer(t, conn).(protocol.Welcome)
	require.True(t, ok, "expected welcome")
	return welcome.UserID
}

func createRoom(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	sendClient(t, conn, protocol.CreateRoom{})
	created, ok := readServer(t, conn).(protocol.RoomCreated)
	require.True(t, ok, "expected room_created")
	return created.RoomID
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID string) {
	t.Helper()

	sendClient(t, conn, protocol.JoinRoom{RoomID: roomID})
	require.Equal(t, protocol.JoinedRoom{RoomID: roomID}, readServer(t, conn))
}
