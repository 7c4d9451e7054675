package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/history"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/merge"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/status"
	"github.com/vovakirdan/wirechat-client/internal/typing"
)

// Identity is the local user as reported by the auth collaborator.
type Identity struct {
	UserID   string
	Username string
}

// roomSub tracks one room the session has joined in this process lifetime.
// joined drops to false on disconnect so the join can be replayed; the
// record itself goes away only on explicit Leave.
type roomSub struct {
	desired bool
	joined  bool
}

// Session owns one live connection and the engine state behind it. A single
// loop goroutine serializes every mutation of connection state, reconnect
// state, and the room subscription set; external callers post commands.
type Session struct {
	cfg    config.Config
	tokens auth.TokenSource
	self   Identity
	log    *zerolog.Logger

	status  *status.Broadcaster
	merger  *merge.Merger
	typing  *typing.Tracker
	history *history.Client

	commands chan command

	// loop-owned; never touched off the loop goroutine
	rooms      map[string]*roomSub
	conn       *transport
	attempt    int
	retryTimer *time.Timer

	histMu      sync.Mutex
	histCtxs    map[string]context.Context
	histCancels map[string]context.CancelFunc

	hookMu    sync.Mutex
	onMessage func(merge.Message)
	onTyping  func(roomID string, typists []string)
	onReceipt func(roomID, messageID, userID string)

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires up a session and its collaborator components. Call Start before
// any other method.
func New(cfg config.Config, tokens auth.TokenSource, self Identity, logger *zerolog.Logger) *Session {
	s := &Session{
		cfg:         cfg,
		tokens:      tokens,
		self:        self,
		log:         log.Component(logger, "session"),
		status:      status.NewBroadcaster(),
		merger:      merge.NewMerger(cfg.ReconcileWindow, log.Component(logger, "merge")),
		commands:    make(chan command, 128),
		rooms:       make(map[string]*roomSub),
		histCtxs:    make(map[string]context.Context),
		histCancels: make(map[string]context.CancelFunc),
		done:        make(chan struct{}),
	}
	s.typing = typing.NewTracker(cfg.TypingExpiry, cfg.TypingStopDelay, s.sendTypingSignal, log.Component(logger, "typing"))
	s.history = history.NewClient(cfg.HistoryURL, tokens, log.Component(logger, "history"))
	return s
}

// Start launches the session loop. The session stops when ctx is cancelled
// or Stop is called.
func (s *Session) Start(ctx context.Context) {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	go s.run(s.runCtx)
}

// Stop shuts the session down and waits for the loop to exit.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Connect requests a connection. Idempotent: a no-op while connecting or
// connected. An explicit call also resets the reconnect budget, so a
// terminally disconnected session can be revived by the user.
func (s *Session) Connect() { s.post(command{kind: cmdConnect, userDial: true}) }

// Disconnect closes the connection intentionally and halts reconnection.
func (s *Session) Disconnect() { s.post(command{kind: cmdDisconnect}) }

// Join marks the room desired-joined and sends JOIN_ROOM when connected;
// otherwise the join is replayed on the next Connected transition.
func (s *Session) Join(roomID string) { s.post(command{kind: cmdJoin, roomID: roomID}) }

// Leave removes the subscription, cancels outstanding history requests for
// the room, and clears its typing entries.
func (s *Session) Leave(roomID string) { s.post(command{kind: cmdLeave, roomID: roomID}) }

// Send inserts an optimistic local message and fires the frame at the
// server. Delivery is at most once: with no connection the frame is dropped
// and the local entry stays unconfirmed.
func (s *Session) Send(roomID, content, msgType string) merge.Message {
	s.typing.StopTyping(roomID)
	msg := s.merger.SendOptimistic(roomID, content, msgType, s.self.UserID, s.self.Username)
	s.post(command{kind: cmdSend, roomID: roomID, payload: proto.MessagePayload{
		ChatRoomID:  roomID,
		Content:     content,
		MessageType: msgType,
		ClientMsgID: msg.ClientMsgID,
	}})
	return msg
}

// MarkRead reports a read receipt for a message.
func (s *Session) MarkRead(roomID, messageID string) {
	s.post(command{kind: cmdMarkRead, roomID: roomID, messageID: messageID})
}

// StartTyping reports local input activity for a room.
func (s *Session) StartTyping(roomID string) { s.typing.StartTyping(roomID) }

// StopTyping ends the local typing burst explicitly.
func (s *Session) StopTyping(roomID string) { s.typing.StopTyping(roomID) }

// LoadHistory fetches one history page and merges it. It blocks on the
// round trip. Failed pages are not retried automatically; call again on
// explicit user action. Results arriving after Leave are discarded.
func (s *Session) LoadHistory(roomID string, page int) error {
	ctx, err := s.historyCtx(roomID)
	if err != nil {
		return err
	}
	msgs, err := s.history.FetchPage(ctx, roomID, page, s.cfg.HistoryPageSize)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		s.log.Debug().Str("room_id", roomID).Msg("history result discarded after leave")
		return ctx.Err()
	}
	s.merger.ApplyHistory(roomID, page, msgs)
	return nil
}

// State returns the current connection state.
func (s *Session) State() status.ConnectionState { return s.status.Current() }

// SubscribeState registers a state handler; see status.Broadcaster.
func (s *Session) SubscribeState(h status.Handler) func() { return s.status.Subscribe(h) }

// Messages returns the ordered message snapshot for a room.
func (s *Session) Messages(roomID string) []merge.Message { return s.merger.Messages(roomID) }

// Typists returns the identities currently typing in a room.
func (s *Session) Typists(roomID string) []string { return s.typing.Typists(roomID) }

// UnloadRoom drops a room's message sequence from memory.
func (s *Session) UnloadRoom(roomID string) { s.merger.Unload(roomID) }

// OnMessage installs a hook invoked for every message applied from the live
// stream (new entries and reconciled echoes alike).
func (s *Session) OnMessage(fn func(merge.Message)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onMessage = fn
}

// OnTyping installs a hook invoked when a room's typing set changes.
func (s *Session) OnTyping(fn func(roomID string, typists []string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onTyping = fn
}

// OnReadReceipt installs a hook for inbound read receipts.
func (s *Session) OnReadReceipt(fn func(roomID, messageID, userID string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onReceipt = fn
}

func (s *Session) post(cmd command) {
	select {
	case s.commands <- cmd:
	default:
		s.log.Error().Int("kind", int(cmd.kind)).Msg("session command queue full, command dropped")
	}
}

func (s *Session) sendTypingSignal(roomID string, isTyping bool) {
	s.post(command{kind: cmdTyping, roomID: roomID, isTyping: isTyping})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case cmd := <-s.commands:
			s.handle(ctx, cmd)
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		s.handleConnect(ctx, cmd.userDial)
	case cmdDisconnect:
		s.handleDisconnect()
	case cmdJoin:
		s.handleJoin(ctx, cmd.roomID)
	case cmdLeave:
		s.handleLeave(ctx, cmd.roomID)
	case cmdSend:
		s.handleSend(ctx, cmd.payload)
	case cmdTyping:
		s.handleTyping(ctx, cmd.roomID, cmd.isTyping)
	case cmdMarkRead:
		s.handleMarkRead(ctx, cmd.roomID, cmd.messageID)
	case cmdInbound:
		s.handleInbound(ctx, cmd.env)
	case cmdConnUp:
		s.handleConnUp(ctx, cmd.conn)
	case cmdConnLost:
		s.handleConnLost(cmd)
	}
}

func (s *Session) handleConnect(ctx context.Context, userDial bool) {
	if s.conn != nil || s.status.Current() == status.StateConnecting {
		return
	}
	if userDial {
		s.attempt = 0
		s.stopRetryTimer()
	}

	token, err := s.tokens.Token()
	if err != nil {
		s.log.Error().Err(err).Str("code", ErrCodeTokenMissing).Msg("connect refused: no bearer token")
		s.status.Publish(status.StateConnecting, nil)
		s.status.Publish(status.StateDisconnected, err)
		return
	}
	if err := auth.CheckNotExpired(token, time.Now()); err != nil {
		// A locally expired credential cannot succeed; escalate instead of
		// burning reconnect attempts.
		s.log.Error().Err(err).Str("code", ErrCodeTokenExpired).Msg("connect refused: credential expired")
		s.status.Publish(status.StateConnecting, nil)
		s.status.Publish(status.StateDisconnected, err)
		return
	}

	s.status.Publish(status.StateConnecting, nil)
	go func() {
		t, err := dialTransport(ctx, s.cfg.ServerURL, token, s.cfg.DialTimeout)
		if err != nil {
			s.post(command{kind: cmdConnLost, err: err})
			return
		}
		s.post(command{kind: cmdConnUp, conn: t})
	}()
}

func (s *Session) handleConnUp(ctx context.Context, t *transport) {
	if s.status.Current() != status.StateConnecting {
		// Disconnect won the race against the dial.
		t.close(websocket.StatusNormalClosure, "closing")
		return
	}

	s.conn = t
	s.attempt = 0
	s.stopRetryTimer()
	s.status.Publish(status.StateConnected, nil)
	s.log.Info().Str("url", s.cfg.ServerURL).Msg("connected")

	go s.readPump(ctx, t)

	// Replay joins so room membership survives reconnection.
	for roomID, sub := range s.rooms {
		if !sub.desired {
			continue
		}
		if s.writeEnvelope(ctx, proto.KindJoinRoom, proto.RoomPayload{ChatRoomID: roomID}) {
			sub.joined = true
		}
	}
}

func (s *Session) handleConnLost(cmd command) {
	if cmd.conn != nil && cmd.conn != s.conn {
		return // stale pump from a replaced connection
	}
	if cmd.conn == nil && s.status.Current() != status.StateConnecting {
		return // stale dial failure
	}

	if cmd.conn != nil {
		cmd.conn.close(websocket.StatusNormalClosure, "closing")
	}
	s.conn = nil
	for _, sub := range s.rooms {
		sub.joined = false
	}

	s.attempt++
	if s.attempt >= s.cfg.MaxAttempts {
		err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.attempt, cmd.err)
		s.log.Error().Err(cmd.err).Int("attempts", s.attempt).Msg("reconnect attempts exhausted")
		s.status.Publish(status.StateDisconnected, err)
		return
	}

	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffFactor, s.attempt-1)
	s.log.Warn().Err(cmd.err).Int("attempt", s.attempt).Dur("retry_in", delay).Msg("connection lost, retry scheduled")
	s.status.Publish(status.StateDisconnected, cmd.err)

	s.stopRetryTimer()
	s.retryTimer = time.AfterFunc(delay, func() {
		s.post(command{kind: cmdConnect})
	})
}

func (s *Session) handleDisconnect() {
	s.stopRetryTimer()
	if s.conn != nil {
		s.conn.close(websocket.StatusNormalClosure, "bye")
		s.conn = nil
	}
	for _, sub := range s.rooms {
		sub.joined = false
	}
	s.status.Publish(status.StateDisconnected, nil)
	s.log.Info().Msg("disconnected")
}

func (s *Session) handleJoin(ctx context.Context, roomID string) {
	sub, ok := s.rooms[roomID]
	if !ok {
		sub = &roomSub{}
		s.rooms[roomID] = sub
	}
	sub.desired = true
	if s.connected() {
		if s.writeEnvelope(ctx, proto.KindJoinRoom, proto.RoomPayload{ChatRoomID: roomID}) {
			sub.joined = true
		}
	}
}

func (s *Session) handleLeave(ctx context.Context, roomID string) {
	if _, ok := s.rooms[roomID]; !ok {
		return
	}
	delete(s.rooms, roomID)
	if s.connected() {
		s.writeEnvelope(ctx, proto.KindLeaveRoom, proto.RoomPayload{ChatRoomID: roomID})
	}
	s.cancelHistory(roomID)
	s.typing.Clear(roomID)
}

func (s *Session) handleSend(ctx context.Context, payload proto.MessagePayload) {
	if !s.connected() {
		s.log.Warn().
			Str("code", ErrCodeTransportNotConnected).
			Str("room_id", payload.ChatRoomID).
			Msg("send dropped, transport not connected")
		return
	}
	s.writeEnvelope(ctx, proto.KindSendMessage, payload)
}

func (s *Session) handleTyping(ctx context.Context, roomID string, isTyping bool) {
	if !s.connected() {
		s.log.Debug().Str("room_id", roomID).Msg("typing signal dropped, transport not connected")
		return
	}
	s.writeEnvelope(ctx, proto.KindTyping, proto.TypingPayload{
		ChatRoomID: roomID,
		UserID:     s.self.UserID,
		IsTyping:   isTyping,
	})
}

func (s *Session) handleMarkRead(ctx context.Context, roomID, messageID string) {
	if !s.connected() {
		s.log.Debug().Str("room_id", roomID).Msg("read receipt dropped, transport not connected")
		return
	}
	s.writeEnvelope(ctx, proto.KindReadReceipt, proto.ReceiptPayload{
		ChatRoomID: roomID,
		MessageID:  messageID,
		UserID:     s.self.UserID,
	})
}

func (s *Session) handleInbound(ctx context.Context, env proto.Envelope) {
	switch env.Type {
	case proto.KindNewMessage:
		var p proto.MessagePayload
		if err := env.DecodeData(&p); err != nil {
			s.log.Warn().Err(err).Str("code", ErrCodeDecodeFailed).Msg("bad NEW_MESSAGE payload")
			return
		}
		if !s.subscribed(p.ChatRoomID) {
			s.log.Debug().Str("room_id", p.ChatRoomID).Msg("message for unsubscribed room dropped")
			return
		}
		msg, ok := s.merger.ApplyInbound(p.ChatRoomID, p)
		if ok {
			s.fireMessage(msg)
		}

	case proto.KindTyping:
		var p proto.TypingPayload
		if err := env.DecodeData(&p); err != nil {
			s.log.Warn().Err(err).Str("code", ErrCodeDecodeFailed).Msg("bad TYPING payload")
			return
		}
		if !s.subscribed(p.ChatRoomID) || p.UserID == s.self.UserID {
			return
		}
		s.typing.ApplyRemote(p.ChatRoomID, p.UserID, p.IsTyping)
		s.fireTyping(p.ChatRoomID)

	case proto.KindReadReceipt:
		var p proto.ReceiptPayload
		if err := env.DecodeData(&p); err != nil {
			s.log.Warn().Err(err).Str("code", ErrCodeDecodeFailed).Msg("bad READ_RECEIPT payload")
			return
		}
		if !s.subscribed(p.ChatRoomID) {
			return
		}
		s.fireReceipt(p)

	case proto.KindPing:
		s.writeEnvelope(ctx, proto.KindPong, nil)

	case proto.KindPong:
		// keepalive ack, nothing to do

	case proto.KindStatusChange:
		s.log.Debug().RawJSON("data", env.Data).Msg("status change frame")

	case proto.KindError:
		var p proto.ErrorPayload
		if err := env.DecodeData(&p); err == nil {
			s.log.Warn().Str("message", p.Message).Msg("server error frame")
		}

	case proto.KindUnknown:
		s.log.Info().Str("raw_type", env.RawType).Msg("unknown envelope kind, dropped")
	}
}

func (s *Session) readPump(ctx context.Context, t *transport) {
	for {
		data, err := t.readRaw(ctx)
		if err != nil {
			s.post(command{kind: cmdConnLost, conn: t, err: err})
			return
		}
		env, derr := proto.Decode(data)
		if derr != nil {
			// Protocol errors never take the connection down.
			s.log.Warn().Err(derr).Str("code", ErrCodeDecodeFailed).Msg("malformed frame dropped")
			continue
		}
		s.post(command{kind: cmdInbound, env: env, conn: t})
	}
}

func (s *Session) writeEnvelope(ctx context.Context, kind proto.Kind, payload any) bool {
	if s.conn == nil {
		return false
	}
	env, err := proto.Encode(kind, payload)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("encode envelope")
		return false
	}
	if err := s.conn.write(ctx, env); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("write envelope")
		return false
	}
	return true
}

func (s *Session) connected() bool {
	return s.conn != nil && s.status.Current() == status.StateConnected
}

func (s *Session) subscribed(roomID string) bool {
	sub, ok := s.rooms[roomID]
	return ok && sub.desired
}

func (s *Session) stopRetryTimer() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) historyCtx(roomID string) (context.Context, error) {
	if s.runCtx == nil {
		return nil, ErrNotStarted
	}
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if ctx, ok := s.histCtxs[roomID]; ok && ctx.Err() == nil {
		return ctx, nil
	}
	ctx, cancel := context.WithCancel(s.runCtx)
	s.histCtxs[roomID] = ctx
	s.histCancels[roomID] = cancel
	return ctx, nil
}

func (s *Session) cancelHistory(roomID string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if cancel, ok := s.histCancels[roomID]; ok {
		cancel()
		delete(s.histCancels, roomID)
		delete(s.histCtxs, roomID)
	}
}

func (s *Session) fireMessage(msg merge.Message) {
	s.hookMu.Lock()
	fn := s.onMessage
	s.hookMu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (s *Session) fireTyping(roomID string) {
	s.hookMu.Lock()
	fn := s.onTyping
	s.hookMu.Unlock()
	if fn != nil {
		fn(roomID, s.typing.Typists(roomID))
	}
}

func (s *Session) fireReceipt(p proto.ReceiptPayload) {
	s.hookMu.Lock()
	fn := s.onReceipt
	s.hookMu.Unlock()
	if fn != nil {
		fn(p.ChatRoomID, p.MessageID, p.UserID)
	}
}

func (s *Session) shutdown() {
	s.stopRetryTimer()
	if s.conn != nil {
		s.conn.close(websocket.StatusNormalClosure, "bye")
		s.conn = nil
	}
	s.typing.Close()
	s.status.Publish(status.StateDisconnected, nil)
}
