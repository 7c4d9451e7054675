package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SendFunc transmits a typing signal for a room. Implemented by the session.
type SendFunc func(roomID string, isTyping bool)

// entry is one remote identity currently typing in a room.
type entry struct {
	userID string
	timer  *time.Timer
}

// localState tracks this client's own typing burst for a room.
type localState struct {
	typing    bool
	stopTimer *time.Timer
}

// Tracker maintains the per-room set of typing identities. Remote entries
// self-expire so a peer that disconnects mid-type never leaves a stuck
// indicator. The local side sends at most one typing=true per burst and
// auto-stops after a quiet period.
type Tracker struct {
	expiry    time.Duration
	stopDelay time.Duration
	send      SendFunc
	log       *zerolog.Logger

	mu      sync.Mutex
	remote  map[string]map[string]*entry // room -> user -> entry
	local   map[string]*localState       // room -> local burst state
	stopped bool
}

// NewTracker builds a tracker. expiry bounds remote entries, stopDelay is the
// local inactivity window before an automatic typing=false.
func NewTracker(expiry, stopDelay time.Duration, send SendFunc, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		expiry:    expiry,
		stopDelay: stopDelay,
		send:      send,
		log:       logger,
		remote:    make(map[string]map[string]*entry),
		local:     make(map[string]*localState),
	}
}

// ApplyRemote processes an inbound typing frame. typing=true creates or
// refreshes the entry and re-arms its expiry timer; typing=false removes it
// immediately. Replacing a timer always stops the previous one first.
func (t *Tracker) ApplyRemote(roomID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	room, ok := t.remote[roomID]
	if !ok {
		if !isTyping {
			return
		}
		room = make(map[string]*entry)
		t.remote[roomID] = room
	}

	if !isTyping {
		if e, ok := room[userID]; ok {
			e.timer.Stop()
			delete(room, userID)
		}
		return
	}

	if e, ok := room[userID]; ok {
		e.timer.Stop()
		e.timer = t.expiryTimer(roomID, userID)
		return
	}
	room[userID] = &entry{userID: userID, timer: t.expiryTimer(roomID, userID)}
}

func (t *Tracker) expiryTimer(roomID, userID string) *time.Timer {
	return time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		room, ok := t.remote[roomID]
		if !ok {
			return
		}
		if _, ok := room[userID]; ok {
			delete(room, userID)
			t.log.Debug().Str("room_id", roomID).Str("user_id", userID).Msg("typing entry expired")
		}
	})
}

// StartTyping reports local input. The typing=true frame goes out once per
// burst; every call re-arms the inactivity stop timer.
func (t *Tracker) StartTyping(roomID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	ls, ok := t.local[roomID]
	if !ok {
		ls = &localState{}
		t.local[roomID] = ls
	}
	first := !ls.typing
	ls.typing = true
	if ls.stopTimer != nil {
		ls.stopTimer.Stop()
	}
	ls.stopTimer = time.AfterFunc(t.stopDelay, func() { t.autoStop(roomID) })
	t.mu.Unlock()

	if first {
		t.send(roomID, true)
	}
}

// StopTyping ends the local burst explicitly, e.g. on message send or blur.
func (t *Tracker) StopTyping(roomID string) {
	t.mu.Lock()
	ls, ok := t.local[roomID]
	if !ok || !ls.typing {
		t.mu.Unlock()
		return
	}
	ls.typing = false
	if ls.stopTimer != nil {
		ls.stopTimer.Stop()
		ls.stopTimer = nil
	}
	t.mu.Unlock()

	t.send(roomID, false)
}

func (t *Tracker) autoStop(roomID string) {
	t.mu.Lock()
	ls, ok := t.local[roomID]
	if !ok || !ls.typing {
		t.mu.Unlock()
		return
	}
	ls.typing = false
	ls.stopTimer = nil
	t.mu.Unlock()

	t.send(roomID, false)
}

// Typists returns the identities currently typing in a room, sorted.
func (t *Tracker) Typists(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.remote[roomID]
	if !ok || len(room) == 0 {
		return nil
	}
	out := make([]string, 0, len(room))
	for userID := range room {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Clear drops every entry and pending timer for a room (room leave).
func (t *Tracker) Clear(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok := t.remote[roomID]; ok {
		for _, e := range room {
			e.timer.Stop()
		}
		delete(t.remote, roomID)
	}
	if ls, ok := t.local[roomID]; ok {
		if ls.stopTimer != nil {
			ls.stopTimer.Stop()
		}
		delete(t.local, roomID)
	}
}

// Close stops all timers. Further calls are no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for roomID, room := range t.remote {
		for _, e := range room {
			e.timer.Stop()
		}
		delete(t.remote, roomID)
	}
	for roomID, ls := range t.local {
		if ls.stopTimer != nil {
			ls.stopTimer.Stop()
		}
		delete(t.local, roomID)
	}
}
