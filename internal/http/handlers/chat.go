package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/nort-backend/internal/http/response"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/services"
)

type ChatHandler struct {
	chat          services.ChatService
	conversations services.ConversationService
}

func NewChatHandler(chat services.ChatService, conversations services.ConversationService) *ChatHandler {
	return &ChatHandler{chat: chat, conversations: conversations}
}

// GET /api/v1/chat/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convs, err := h.conversations.ListUserConversations(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, "list_conversations_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

// POST /api/v1/chat
func (h *ChatHandler) StartConversation(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req services.PostInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.chat.StartConversation(c.Request.Context(), userID, req)
	if err != nil {
		response.RespondErr(c, "start_conversation_failed", err)
		return
	}
	response.RespondCreated(c, res)
}

// GET /api/v1/chat/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	access, err := h.conversations.CanUserAccessConversation(ctx, convID, userID)
	if err != nil {
		response.RespondErr(c, "get_conversation_failed", err)
		return
	}
	if !access.CanRead {
		response.RespondErr(c, "not_found", fmt.Errorf("conversation %s: %w", convID, pkgerrors.ErrNotFound))
		return
	}
	conv, err := h.conversations.GetConversation(ctx, convID)
	if err != nil {
		response.RespondErr(c, "get_conversation_failed", err)
		return
	}
	msgs, err := h.conversations.GetConversationMessages(ctx, convID)
	if err != nil {
		response.RespondErr(c, "get_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv, "messages": msgs, "access": access})
}

// POST /api/v1/chat/:id
func (h *ChatHandler) PostMessage(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req services.PostInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.chat.PostMessage(c.Request.Context(), userID, convID, req)
	if err != nil {
		response.RespondErr(c, "post_message_failed", err)
		return
	}
	response.RespondCreated(c, res)
}

// DELETE /api/v1/chat/:id/messages/:messageId
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	msgID, ok := uuidParam(c, "messageId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	msg, err := h.conversations.GetMessageByID(ctx, msgID)
	if err != nil {
		response.RespondErr(c, "delete_message_failed", err)
		return
	}
	if msg.ConversationID != convID {
		response.RespondErr(c, "not_found", fmt.Errorf("message %s: %w", msgID, pkgerrors.ErrNotFound))
		return
	}
	if err := h.conversations.DeleteMessage(ctx, msgID, userID); err != nil {
		response.RespondErr(c, "delete_message_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/chat/:id/participants
func (h *ChatHandler) GetParticipants(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	parts, err := h.conversations.GetConversationParticipants(c.Request.Context(), convID, userID)
	if err != nil {
		response.RespondErr(c, "list_participants_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"participants": parts})
}

type shareReq struct {
	AccessType string `json:"access_type"`
}

// POST /api/v1/chat/:id/share
func (h *ChatHandler) Share(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req shareReq
	if !bindJSON(c, &req) {
		return
	}
	link, err := h.conversations.CreateShareLink(c.Request.Context(), convID, userID, req.AccessType)
	if err != nil {
		response.RespondErr(c, "share_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"share_token": link.ShareToken, "access_type": link.AccessType})
}

// GET /api/v1/chat/shared/:token
func (h *ChatHandler) GetShared(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	shared, err := h.conversations.GetConversationByShareToken(c.Request.Context(), c.Param("token"), userID)
	if err != nil {
		response.RespondErr(c, "get_shared_failed", err)
		return
	}
	response.RespondOK(c, shared)
}

type forkReq struct {
	Title string `json:"title"`
}

// POST /api/v1/chat/:id/fork
func (h *ChatHandler) Fork(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req forkReq
	// the body is optional
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	fork, err := h.conversations.ForkConversation(c.Request.Context(), convID, userID, req.Title)
	if err != nil {
		response.RespondErr(c, "fork_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"conversation": fork})
}
