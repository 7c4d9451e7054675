package merge

import "time"

// Message is the client-side view of a chat message.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	Content     string
	Type        string
	CreatedAt   time.Time
	Confirmed   bool
	ClientMsgID string
}
