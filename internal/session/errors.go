package session

import "errors"

// Error codes for conditions the session reports.
const (
	ErrCodeTransportNotConnected = "transport_not_connected"
	ErrCodeTokenMissing          = "token_missing"
	ErrCodeTokenExpired          = "token_expired"
	ErrCodeReconnectExhausted    = "reconnect_exhausted"
	ErrCodeDecodeFailed          = "decode_failed"
)

var (
	// ErrReconnectExhausted marks the terminal disconnected state after the
	// configured attempts are used up. Only an explicit Connect() resumes.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotStarted reports use of a session before Start.
	ErrNotStarted = errors.New("session not started")
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
