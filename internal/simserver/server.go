package simserver

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse wraps REST results the way the production API does.
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// wireMessage matches the history contract consumed by the client.
type wireMessage struct {
	ID          string `json:"id"`
	ChatRoomID  string `json:"chat_room_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	CreatedAt   int64  `json:"created_at"`
}

// client is one connected websocket peer.
type client struct {
	userID   string
	username string
	ws       *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) write(env proto.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}

// Server is the local development backend: guest tokens, paginated message
// history, and a websocket endpoint that echoes sends as confirmed messages.
type Server struct {
	store  *Store
	jwtCfg *auth.JWTConfig
	log    *zerolog.Logger
	engine *gin.Engine

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

// NewServer wires the REST routes and the websocket endpoint.
func NewServer(store *Store, jwtCfg *auth.JWTConfig, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:  store,
		jwtCfg: jwtCfg,
		log:    logger,
		rooms:  make(map[string]map[*client]struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.POST("/api/guest", s.guestLogin)
	engine.GET("/api/messages", s.authRequired, s.listMessages)
	engine.GET("/ws", s.serveWS)

	s.engine = engine
	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) guestLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID := utils.NewID("u-")
	if req.Username == "" {
		req.Username = "guest-" + userID
	}

	token, err := auth.GenerateToken(s.jwtCfg, userID, req.Username, true)
	if err != nil {
		s.log.Error().Err(err).Msg("generate guest token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: gin.H{
		"token":    token,
		"user_id":  userID,
		"username": req.Username,
	}})
}

func (s *Server) authRequired(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	claims, err := auth.ValidateToken(s.jwtCfg, header[len(prefix):])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.Set("claims", claims)
	c.Next()
}

func (s *Server) listMessages(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room_id is required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	msgs, err := s.store.ListPage(c.Request.Context(), roomID, page, limit)
	if err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{
			ID:          m.ID,
			ChatRoomID:  m.RoomID,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Content:     m.Content,
			MessageType: m.MessageType,
			CreatedAt:   m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: out})
}

func (s *Server) serveWS(c *gin.Context) {
	claims, err := auth.ValidateToken(s.jwtCfg, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}

	cl := &client{userID: claims.UserID, username: claims.Username, ws: ws}
	s.log.Info().Str("user_id", cl.userID).Msg("client connected")

	defer func() {
		s.dropClient(cl)
		_ = ws.Close(websocket.StatusNormalClosure, "closing")
		s.log.Info().Str("user_id", cl.userID).Msg("client disconnected")
	}()

	s.readLoop(c.Request.Context(), cl)
}

func (s *Server) readLoop(ctx context.Context, cl *client) {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, cl.ws, &env); err != nil {
			return
		}

		switch env.Type {
		case proto.KindJoinRoom:
			var p proto.RoomPayload
			if env.DecodeData(&p) == nil {
				s.joinRoom(p.ChatRoomID, cl)
			}
		case proto.KindLeaveRoom:
			var p proto.RoomPayload
			if env.DecodeData(&p) == nil {
				s.leaveRoom(p.ChatRoomID, cl)
			}
		case proto.KindSendMessage:
			var p proto.MessagePayload
			if env.DecodeData(&p) == nil {
				s.handleSend(ctx, cl, p)
			}
		case proto.KindTyping:
			var p proto.TypingPayload
			if env.DecodeData(&p) == nil {
				p.UserID = cl.userID
				s.broadcast(p.ChatRoomID, proto.KindTyping, p, cl)
			}
		case proto.KindReadReceipt:
			var p proto.ReceiptPayload
			if env.DecodeData(&p) == nil {
				p.UserID = cl.userID
				s.broadcast(p.ChatRoomID, proto.KindReadReceipt, p, cl)
			}
		case proto.KindPing:
			if out, err := proto.Encode(proto.KindPong, nil); err == nil {
				_ = cl.write(out)
			}
		default:
			s.log.Debug().Str("type", string(env.Type)).Msg("frame ignored")
		}
	}
}

func (s *Server) handleSend(ctx context.Context, cl *client, p proto.MessagePayload) {
	if p.MessageType == "" {
		p.MessageType = "text"
	}
	msg := &StoredMessage{
		ID:          utils.NewID("srv-"),
		RoomID:      p.ChatRoomID,
		SenderID:    cl.userID,
		SenderName:  cl.username,
		Content:     p.Content,
		MessageType: p.MessageType,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Msg("save message")
		if out, encErr := proto.Encode(proto.KindError, proto.ErrorPayload{Message: "message not saved"}); encErr == nil {
			_ = cl.write(out)
		}
		return
	}

	// Echo to everyone in the room, sender included, with the correlation id
	// so the sender can reconcile its optimistic entry.
	s.broadcast(p.ChatRoomID, proto.KindNewMessage, proto.MessagePayload{
		ChatRoomID:  msg.RoomID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		ID:          msg.ID,
		ClientMsgID: p.ClientMsgID,
		CreatedAt:   msg.CreatedAt,
	}, nil)
}

func (s *Server) joinRoom(roomID string, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[*client]struct{})
		s.rooms[roomID] = room
	}
	room[cl] = struct{}{}
}

func (s *Server) leaveRoom(roomID string, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		delete(room, cl)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

func (s *Server) dropClient(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, room := range s.rooms {
		delete(room, cl)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

// broadcast sends an envelope to every member of a room except skip.
func (s *Server) broadcast(roomID string, kind proto.Kind, payload any, skip *client) {
	env, err := proto.Encode(kind, payload)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("encode broadcast")
		return
	}

	s.mu.Lock()
	members := make([]*client, 0)
	for cl := range s.rooms[roomID] {
		if cl != skip {
			members = append(members, cl)
		}
	}
	s.mu.Unlock()

	for _, cl := range members {
		if err := cl.write(env); err != nil {
			s.log.Warn().Err(err).Str("user_id", cl.userID).Msg("broadcast write failed")
		}
	}
}
