package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is wrapped by every decode failure.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType reports a type tag outside the message set.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField reports a required field absent from the payload.
	ErrMissingField = errors.New("missing field")
)

// envelope is the union of every field a tagged message can carry. Pointers
// distinguish an absent field from an empty string.
type envelope struct {
	Type     *string `json:"type"`
	Username *string `json:"username"`
	RoomID   *string `json:"room_id"`
	Text     *string `json:"text"`
	UserID   *string `json:"user_id"`
	From     *string `json:"from"`
	Message  *string `json:"message"`
}

func decodeEnvelope(data []byte) (envelope, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return env, "", missing("type")
	}
	return env, *env.Type, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %w %q", ErrMalformed, ErrMissingField, field)
}

func unknown(typ string) error {
	return fmt.Errorf("%w: %w %q", ErrMalformed, ErrUnknownType, typ)
}

// DecodeClient parses one inbound frame. Unknown fields are ignored.
func DecodeClient(data []byte) (ClientMessage, error) {
	env, typ, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeHello:
		if env.Username == nil {
			return nil, missing("username")
		}
		return Hello{Username: *env.Username}, nil
	case TypeCreateRoom:
		return CreateRoom{}, nil
	case TypeJoinRoom:
		if env.RoomID == nil {
			return nil, missing("room_id")
		}
		return JoinRoom{RoomID: *env.RoomID}, nil
	case TypeMessage:
		if env.Text == nil {
			return nil, missing("text")
		}
		return ChatMessage{Text: *env.Text}, nil
	default:
		return nil, unknown(typ)
	}
}

// Encode serializes a server message into a single text frame.
func Encode(m ServerMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.ServerType(), err)
	}
	return data, nil
}

// EncodeClient serializes a client message, for Go clients of the relay.
func EncodeClient(m ClientMessage) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.ClientType(), err)
	}
	return data, nil
}

// DecodeServer parses one outbound frame as a client would see it.
func DecodeServer(data []byte) (ServerMessage, error) {
	env, typ, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeWelcome:
		if env.UserID == nil {
			return nil, missing("user_id")
		}
		return Welcome{UserID: *env.UserID}, nil
	case TypeRoomCreated:
		if env.RoomID == nil {
			return nil, missing("room_id")
		}
		return RoomCreated{RoomID: *env.RoomID}, nil
	case TypeJoinedRoom:
		if env.RoomID == nil {
			return nil, missing("room_id")
		}
		return JoinedRoom{RoomID: *env.RoomID}, nil
	case TypeRoomMessage:
		if env.RoomID == nil {
			return nil, missing("room_id")
		}
		if env.From == nil {
			return nil, missing("from")
		}
		if env.Text == nil {
			return nil, missing("text")
		}
		return RoomMessage{RoomID: *env.RoomID, From: *env.From, Text: *env.Text}, nil
	case TypeError:
		if env.Message == nil {
			return nil, missing("message")
		}
		return ErrorReply{Message: *env.Message}, nil
	default:
		return nil, unknown(typ)
	}
}
