package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/nort-backend/internal/http/response"
	"github.com/yungbote/nort-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type credentialsReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /api/v1/auth/signup
func (ah *AuthHandler) Signup(c *gin.Context) {
	var req credentialsReq
	if !bindJSON(c, &req) {
		return
	}
	session, err := ah.authService.Signup(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.RespondErr(c, "signup_failed", err)
		return
	}
	response.RespondCreated(c, session)
}

// POST /api/v1/auth/login
func (ah *AuthHandler) Login(c *gin.Context) {
	var req credentialsReq
	if !bindJSON(c, &req) {
		return
	}
	session, err := ah.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.RespondErr(c, "login_failed", err)
		return
	}
	response.RespondOK(c, session)
}

// POST /api/v1/auth/logout
func (ah *AuthHandler) Logout(c *gin.Context) {
	if err := ah.authService.Logout(c.Request.Context()); err != nil {
		response.RespondErr(c, "logout_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
