package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags a wire envelope.
type Kind string

const (
	KindJoinRoom     Kind = "JOIN_ROOM"
	KindLeaveRoom    Kind = "LEAVE_ROOM"
	KindSendMessage  Kind = "SEND_MESSAGE"
	KindNewMessage   Kind = "NEW_MESSAGE"
	KindTyping       Kind = "TYPING"
	KindReadReceipt  Kind = "READ_RECEIPT"
	KindStatusChange Kind = "STATUS_CHANGE"
	KindPing         Kind = "PING"
	KindPong         Kind = "PONG"
	KindError        Kind = "ERROR"

	// KindUnknown marks envelopes whose type the client does not recognize.
	// They are decoded, logged, and routed nowhere.
	KindUnknown Kind = "UNKNOWN"
)

var knownKinds = map[Kind]struct{}{
	KindJoinRoom:     {},
	KindLeaveRoom:    {},
	KindSendMessage:  {},
	KindNewMessage:   {},
	KindTyping:       {},
	KindReadReceipt:  {},
	KindStatusChange: {},
	KindPing:         {},
	KindPong:         {},
	KindError:        {},
}

// ErrEmptyType reports an envelope with no type discriminator.
var ErrEmptyType = errors.New("envelope type is empty")

// Envelope is the wire unit in both directions.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// RawType preserves the original discriminator when Type is KindUnknown.
	RawType string `json:"-"`
}

// MessagePayload carries SEND_MESSAGE and NEW_MESSAGE data.
type MessagePayload struct {
	ChatRoomID  string `json:"chat_room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	ID          string `json:"id,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// TypingPayload carries TYPING data.
type TypingPayload struct {
	ChatRoomID string `json:"chat_room_id"`
	UserID     string `json:"user_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

// RoomPayload carries JOIN_ROOM and LEAVE_ROOM data.
type RoomPayload struct {
	ChatRoomID string `json:"chat_room_id"`
}

// ReceiptPayload carries READ_RECEIPT data.
type ReceiptPayload struct {
	ChatRoomID string `json:"chat_room_id"`
	MessageID  string `json:"message_id"`
	UserID     string `json:"user_id,omitempty"`
}

// ErrorPayload carries ERROR data.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Decode parses a raw frame into an Envelope. Unknown type tags are not an
// error: the envelope comes back with KindUnknown and RawType set, so
// protocol-version skew does not break the connection.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	if _, ok := knownKinds[env.Type]; !ok {
		env.RawType = string(env.Type)
		env.Type = KindUnknown
	}
	return env, nil
}

// Encode builds an envelope around a typed payload.
func Encode(kind Kind, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Data: data}, nil
}

// DecodeData unmarshals the envelope payload into target.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}
