package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/nort-backend/internal/http/response"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
	"github.com/yungbote/nort-backend/internal/services"
)

// RealtimeHandler attaches SSE and WebSocket viewers to a conversation room.
type RealtimeHandler struct {
	log           *logger.Logger
	hub           *realtime.Hub
	chat          services.ChatService
	conversations services.ConversationService
	writeTimeout  time.Duration
	pongWait      time.Duration
	upgrader      websocket.Upgrader
}

func NewRealtimeHandler(
	log *logger.Logger,
	hub *realtime.Hub,
	chat services.ChatService,
	conversations services.ConversationService,
	heartbeat time.Duration,
) *RealtimeHandler {
	if heartbeat <= 0 {
		heartbeat = realtime.DefaultHeartbeat
	}
	return &RealtimeHandler{
		log:           log.With("handler", "RealtimeHandler"),
		hub:           hub,
		chat:          chat,
		conversations: conversations,
		writeTimeout:  10 * time.Second,
		pongWait:      2 * heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// sockets authenticate with a token, never a cookie
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// authorize resolves the conversation and last_message_id, responding on failure.
func (h *RealtimeHandler) authorize(c *gin.Context) (convID, userID, lastID uuid.UUID, ok bool) {
	if userID, ok = requestUser(c); !ok {
		return
	}
	if convID, ok = uuidParam(c, "id"); !ok {
		return
	}
	access, err := h.conversations.CanUserAccessConversation(c.Request.Context(), convID, userID)
	if err != nil {
		response.RespondErr(c, "subscribe_failed", err)
		return convID, userID, lastID, false
	}
	if !access.CanRead {
		response.RespondErr(c, "not_found", fmt.Errorf("conversation %s: %w", convID, pkgerrors.ErrNotFound))
		return convID, userID, lastID, false
	}
	if raw := strings.TrimSpace(c.Query("last_message_id")); raw != "" {
		// a malformed id replays the full history
		lastID, _ = uuid.Parse(raw)
	}
	return convID, userID, lastID, true
}

// GET /api/v1/chat/:id/events
func (h *RealtimeHandler) Events(c *gin.Context) {
	convID, userID, lastID, ok := h.authorize(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sink, err := realtime.NewSSESink(c.Writer, h.writeTimeout)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stream_unsupported", err)
		return
	}
	sub, err := h.hub.Subscribe(convID, userID, sink, h.chat.Backlog(ctx, convID, lastID))
	if err != nil {
		h.log.Debug("SSE subscribe failed", "conversation_id", convID, "error", err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	select {
	case <-ctx.Done():
	case <-sub.Done():
	}
}

// GET /api/v1/chat/:id/ws
func (h *RealtimeHandler) WebSocket(c *gin.Context) {
	convID, userID, lastID, ok := h.authorize(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.Debug("WebSocket upgrade failed", "conversation_id", convID, "error", err)
		return
	}
	sink := realtime.NewWSSink(conn, h.writeTimeout)
	sub, err := h.hub.Subscribe(convID, userID, sink, h.chat.Backlog(c.Request.Context(), convID, lastID))
	if err != nil {
		h.log.Debug("WebSocket subscribe failed", "conversation_id", convID, "error", err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	// Viewers only listen; reading drives pong handling and close detection.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
