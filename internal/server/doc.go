// Package server implements the HTTP and WebSocket surface of the room relay.
//
// The implementation is organized into specialized files for configuration, the
// session hub, per-connection sessions and their outboxes, routing, and HTTP
// handlers. Room state lives in the rooms package; the wire format lives in the
// protocol package.
package server
