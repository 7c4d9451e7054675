package status

// ConnectionState represents the current state of the live connection.
type ConnectionState int

const (
	// StateDisconnected means the session is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the session is establishing a connection.
	StateConnecting

	// StateConnected means the session is connected and ready.
	StateConnected
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateEvent describes a state transition.
type StateEvent struct {
	Old ConnectionState
	New ConnectionState
	Err error // optional error that caused the transition
}
