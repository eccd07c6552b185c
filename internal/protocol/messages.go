// Package protocol defines the JSON messages exchanged between chat clients and
// the relay, each tagged by a "type" discriminator.
package protocol

import "encoding/json"

// Client to server message tags.
const (
	TypeHello      = "hello"
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeMessage    = "message"
)

// Server to client message tags.
const (
	TypeWelcome     = "welcome"
	TypeRoomCreated = "room_created"
	TypeJoinedRoom  = "joined_room"
	TypeRoomMessage = "room_message"
	TypeError       = "error"
)

// ClientMessage is one of Hello, CreateRoom, JoinRoom or ChatMessage.
type ClientMessage interface {
	ClientType() string
}

// Hello authenticates a connection with a display name.
type Hello struct {
	Username string `json:"username"`
}

// CreateRoom asks the server to allocate a new room.
type CreateRoom struct{}

// JoinRoom asks to become a member of an existing room.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// ChatMessage is text to broadcast to the sender's current room.
type ChatMessage struct {
	Text string `json:"text"`
}

func (Hello) ClientType() string       { return TypeHello }
func (CreateRoom) ClientType() string  { return TypeCreateRoom }
func (JoinRoom) ClientType() string    { return TypeJoinRoom }
func (ChatMessage) ClientType() string { return TypeMessage }

// ServerMessage is one of Welcome, RoomCreated, JoinedRoom, RoomMessage or
// ErrorReply.
type ServerMessage interface {
	ServerType() string
}

// Welcome acknowledges a Hello and carries the connection's member id.
type Welcome struct {
	UserID string `json:"user_id"`
}

// RoomCreated carries the id of a freshly created room.
type RoomCreated struct {
	RoomID string `json:"room_id"`
}

// JoinedRoom confirms membership of a room.
type JoinedRoom struct {
	RoomID string `json:"room_id"`
}

// RoomMessage is a chat line fanned out to every member of a room.
type RoomMessage struct {
	RoomID string `json:"room_id"`
	From   string `json:"from"`
	Text   string `json:"text"`
}

// ErrorReply reports a rejected request. The connection stays open.
type ErrorReply struct {
	Message string `json:"message"`
}

func (Welcome) ServerType() string     { return TypeWelcome }
func (RoomCreated) ServerType() string { return TypeRoomCreated }
func (JoinedRoom) ServerType() string  { return TypeJoinedRoom }
func (RoomMessage) ServerType() string { return TypeRoomMessage }
func (ErrorReply) ServerType() string  { return TypeError }

// MarshalJSON implementations add the type tag in front of the variant fields.

func (m Welcome) MarshalJSON() ([]byte, error) {
	type fields Welcome
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeWelcome, fields(m)})
}

func (m RoomCreated) MarshalJSON() ([]byte, error) {
	type fields RoomCreated
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeRoomCreated, fields(m)})
}

func (m JoinedRoom) MarshalJSON() ([]byte, error) {
	type fields JoinedRoom
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeJoinedRoom, fields(m)})
}

func (m RoomMessage) MarshalJSON() ([]byte, error) {
	type fields RoomMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeRoomMessage, fields(m)})
}

func (m ErrorReply) MarshalJSON() ([]byte, error) {
	type fields ErrorReply
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeError, fields(m)})
}

func (m Hello) MarshalJSON() ([]byte, error) {
	type fields Hello
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeHello, fields(m)})
}

func (CreateRoom) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypeCreateRoom})
}

func (m JoinRoom) MarshalJSON() ([]byte, error) {
	type fields JoinRoom
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeJoinRoom, fields(m)})
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type fields ChatMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{TypeMessage, fields(m)})
}
