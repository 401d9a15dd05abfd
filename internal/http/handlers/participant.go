package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/nort-backend/internal/http/response"
	"github.com/yungbote/nort-backend/internal/services"
)

type ParticipantHandler struct {
	participants services.ParticipantService
}

func NewParticipantHandler(participants services.ParticipantService) *ParticipantHandler {
	return &ParticipantHandler{participants: participants}
}

// GET /api/v1/participants/llm
func (h *ParticipantHandler) ListLLMs(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	out, err := h.participants.ListLLMParticipants(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, "list_participants_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"participants": out})
}

// POST /api/v1/participants/llm
func (h *ParticipantHandler) CreateLLM(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req services.LLMInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.CreateLLM(c.Request.Context(), userID, req)
	if err != nil {
		response.RespondErr(c, "create_participant_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"participant": p})
}

// PATCH /api/v1/participants/llm/:id
func (h *ParticipantHandler) UpdateLLM(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req services.LLMUpdate
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.UpdateLLM(c.Request.Context(), userID, id, req)
	if err != nil {
		response.RespondErr(c, "update_participant_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"participant": p})
}

// POST /api/v1/participants/llm/:id/clone
func (h *ParticipantHandler) CloneLLM(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.participants.CloneLLM(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondErr(c, "clone_participant_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"participant": p})
}

// GET /api/v1/participants/personas
func (h *ParticipantHandler) ListPersonas(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	out, err := h.participants.ListPersonas(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, "list_personas_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"personas": out})
}

// GET /api/v1/participants/personas/current
func (h *ParticipantHandler) CurrentPersona(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	p, err := h.participants.GetCurrentPersona(c.Request.Context(), userID)
	if err != nil {
		response.RespondErr(c, "get_persona_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"persona": p})
}

type personaReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// POST /api/v1/participants/personas
func (h *ParticipantHandler) CreatePersona(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	var req personaReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.CreatePersona(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		response.RespondErr(c, "create_persona_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"persona": p})
}

// POST /api/v1/participants/personas/:id/default
func (h *ParticipantHandler) SetDefaultPersona(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.participants.SetDefaultPersona(c.Request.Context(), userID, id)
	if err != nil {
		response.RespondErr(c, "set_default_persona_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"persona": p})
}

// DELETE /api/v1/participants/personas/:id
func (h *ParticipantHandler) DeletePersona(c *gin.Context) {
	userID, ok := requestUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.participants.DeletePersona(c.Request.Context(), userID, id); err != nil {
		response.RespondErr(c, "delete_persona_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
