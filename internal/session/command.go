package session

import "github.com/vovakirdan/wirechat-client/internal/proto"

// commandKind describes what the caller wants the session loop to do.
type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdJoin
	cmdLeave
	cmdSend
	cmdTyping
	cmdMarkRead
	cmdInbound
	cmdConnUp
	cmdConnLost
)

// command is one unit of work for the session loop. All mutations of
// connection, reconnect, and room state happen on the loop goroutine.
type command struct {
	kind commandKind

	roomID    string
	userDial  bool // cmdConnect: explicit caller vs scheduled retry
	payload   proto.MessagePayload
	isTyping  bool
	messageID string

	env  proto.Envelope // cmdInbound
	conn *transport     // cmdConnUp, cmdConnLost
	err  error          // cmdConnLost, failed dial
}
