package merge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// pending tracks an optimistic message awaiting its server echo.
type pending struct {
	tempID      string
	clientMsgID string
	senderID    string
	content     string
	insertedAt  time.Time
}

// Merger combines history pages, live frames, and optimistic sends into one
// ordered, deduplicated sequence per room. Rooms are independent; each is
// guarded by its own lock.
type Merger struct {
	window time.Duration
	log    *zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	now func() time.Time // test hook
}

type roomState struct {
	mu      sync.Mutex
	seq     *sequence
	pending []pending
	tempSeq int
}

// NewMerger builds a merger with the given reconciliation window.
func NewMerger(window time.Duration, logger *zerolog.Logger) *Merger {
	return &Merger{
		window: window,
		log:    logger,
		rooms:  make(map[string]*roomState),
		now:    time.Now,
	}
}

func (m *Merger) room(roomID string) *roomState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.rooms[roomID]
	if !ok {
		rs = &roomState{seq: newSequence()}
		m.rooms[roomID] = rs
	}
	return rs
}

// ApplyHistory merges one pagination batch. The first page replaces the
// room's confirmed entries (history pagination walks backward, so later
// pages carry older messages and simply merge in by id). Optimistic entries
// still awaiting their echo survive a page-1 replace.
func (m *Merger) ApplyHistory(roomID string, page int, msgs []Message) {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if page <= 1 {
		kept := make([]Message, 0)
		for _, e := range rs.seq.snapshot() {
			if !e.Confirmed {
				kept = append(kept, e)
			}
		}
		rs.seq = newSequence()
		for _, e := range kept {
			rs.seq.insert(e)
		}
	}

	added := 0
	for _, msg := range msgs {
		msg.Confirmed = true
		if rs.seq.insert(msg) {
			added++
		}
	}
	m.log.Debug().
		Str("room_id", roomID).
		Int("page", page).
		Int("added", added).
		Int("total", rs.seq.len()).
		Msg("history page merged")
}

// SendOptimistic inserts an unconfirmed local message before transmission is
// confirmed. The returned message carries the temp id and the correlation id
// to put on the wire.
func (m *Merger) SendOptimistic(roomID, content, msgType, senderID, senderName string) Message {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := m.now()
	tempID := fmt.Sprintf("temp-%d", now.UnixMilli())
	for rs.seq.contains(tempID) {
		rs.tempSeq++
		tempID = fmt.Sprintf("temp-%d-%d", now.UnixMilli(), rs.tempSeq)
	}

	msg := Message{
		ID:          tempID,
		RoomID:      roomID,
		SenderID:    senderID,
		SenderName:  senderName,
		Content:     content,
		Type:        msgType,
		CreatedAt:   now,
		Confirmed:   false,
		ClientMsgID: uuid.NewString(),
	}
	rs.seq.insert(msg)
	rs.pending = append(rs.pending, pending{
		tempID:      tempID,
		clientMsgID: msg.ClientMsgID,
		senderID:    senderID,
		content:     content,
		insertedAt:  now,
	})
	return msg
}

// ApplyInbound applies a live NEW_MESSAGE frame. If it is the echo of a
// pending optimistic entry, that entry is replaced in place; otherwise the
// message is inserted, deduplicated by server id. The second return is false
// when the frame was a duplicate and nothing changed.
func (m *Merger) ApplyInbound(roomID string, p proto.MessagePayload) (Message, bool) {
	rs := m.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	msg := Message{
		ID:          p.ID,
		RoomID:      roomID,
		SenderID:    p.SenderID,
		SenderName:  p.SenderName,
		Content:     p.Content,
		Type:        p.MessageType,
		CreatedAt:   time.UnixMilli(p.CreatedAt),
		Confirmed:   true,
		ClientMsgID: p.ClientMsgID,
	}

	if idx := rs.matchPending(p, m.now(), m.window); idx >= 0 {
		tempID := rs.pending[idx].tempID
		rs.pending = append(rs.pending[:idx], rs.pending[idx+1:]...)
		if rs.seq.replace(tempID, msg) {
			m.log.Debug().
				Str("room_id", roomID).
				Str("temp_id", tempID).
				Str("id", msg.ID).
				Msg("optimistic message reconciled")
			return msg, true
		}
	}

	if !rs.seq.insert(msg) {
		m.log.Debug().Str("room_id", roomID).Str("id", msg.ID).Msg("duplicate message dropped")
		return msg, false
	}
	return msg, true
}

// matchPending finds the oldest pending entry matching the echo, first by
// correlation id, then by sender+content inside the reconciliation window.
func (rs *roomState) matchPending(p proto.MessagePayload, now time.Time, window time.Duration) int {
	if p.ClientMsgID != "" {
		for i, pd := range rs.pending {
			if pd.clientMsgID == p.ClientMsgID {
				return i
			}
		}
		return -1
	}
	for i, pd := range rs.pending {
		if pd.senderID == p.SenderID && pd.content == p.Content && now.Sub(pd.insertedAt) <= window {
			return i
		}
	}
	return -1
}

// Messages returns an ordered snapshot of the room's sequence.
func (m *Merger) Messages(roomID string) []Message {
	m.mu.Lock()
	rs, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.seq.snapshot()
}

// Unload drops a room's sequence and pending state entirely.
func (m *Merger) Unload(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}
