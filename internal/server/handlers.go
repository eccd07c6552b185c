// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, stats, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, and hands a new
// Session to the hub, which starts its read and write pumps.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	session := NewSession(conn, h, r.RemoteAddr)
	if !h.registerSession(session) {
		h.log.Info("rejecting connection during shutdown", "addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// StatsHandler reports session and room counts as JSON.
func (h *Hub) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
		h.log.Warn("error writing stats response", "err", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running!")
}

// TestPageHandler serves an HTML page that speaks the room protocol, for
// trying the relay from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		slog.Warn("error writing HTML response", "err", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #999; }
        .row { margin: 6px 0; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <input type="text" id="username" placeholder="Display name">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div class="row">
        <button id="createButton" onclick="send({type: 'create_room'})" disabled>Create room</button>
        <input type="text" id="roomInput" placeholder="Room id">
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
    </div>
    <div class="row">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const roomInput = document.getElementById('roomInput');
        const messageInput = document.getElementById('messageInput');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setEnabled(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            for (const id of ['createButton', 'joinButton', 'messageInput', 'sendButton']) {
                document.getElementById(id).disabled = !connected;
            }
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(msg) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(msg));
            }
        }

        function handle(msg) {
            switch (msg.type) {
            case 'welcome':
                addLine('Welcome, your id is ' + msg.user_id);
                break;
            case 'room_created':
                roomInput.value = msg.room_id;
                addLine('Room created: ' + msg.room_id);
                break;
            case 'joined_room':
                addLine('Joined room ' + msg.room_id);
                break;
            case 'room_message':
                addLine(msg.from + ': ' + msg.text, 'green');
                break;
            case 'error':
                addLine('Error: ' + msg.message, 'red');
                break;
            default:
                addLine('Unknown message: ' + JSON.stringify(msg));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                setEnabled(true);
                send({type: 'hello', username: document.getElementById('username').value});
            };
            ws.onmessage = function(event) { handle(JSON.parse(event.data)); };
            ws.onclose = function() {
                addLine('Connection closed');
                setEnabled(false);
                ws = null;
            };
            ws.onerror = function() { addLine('Connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            send({type: 'join_room', room_id: roomInput.value.trim()});
        }

        function sendMessage() {
            const text = messageInput.value;
            if (text) {
                send({type: 'message', text: text});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
