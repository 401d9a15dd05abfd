package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/nort-backend/internal/http/handlers"
	httpMW "github.com/yungbote/nort-backend/internal/http/middleware"
	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler        *httpH.AuthHandler
	ChatHandler        *httpH.ChatHandler
	ParticipantHandler *httpH.ParticipantHandler
	RealtimeHandler    *httpH.RealtimeHandler
	JobHandler         *httpH.JobHandler
	HealthHandler      *httpH.HealthHandler

	AuthMiddleware *httpMW.AuthMiddleware
	PostLimiter    *httpMW.UserRateLimiter
	Metrics        *observability.Metrics

	CORSOrigins []string
	OtelEnabled bool
	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.OtelEnabled {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	if cfg.Metrics != nil {
		r.Use(httpMW.Metrics(cfg.Metrics))
	}
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api/v1")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/signup", cfg.AuthHandler.Signup)
			api.POST("/auth/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.POST("/auth/logout", cfg.AuthHandler.Logout)
		}

		// Chat
		if cfg.ChatHandler != nil {
			post := []gin.HandlerFunc{}
			if cfg.PostLimiter != nil {
				post = append(post, cfg.PostLimiter.Middleware())
			}
			protected.GET("/chat/conversations", cfg.ChatHandler.ListConversations)
			protected.POST("/chat", append(post, cfg.ChatHandler.StartConversation)...)
			protected.GET("/chat/shared/:token", cfg.ChatHandler.GetShared)
			protected.GET("/chat/:id", cfg.ChatHandler.GetConversation)
			protected.POST("/chat/:id", append(post, cfg.ChatHandler.PostMessage)...)
			protected.DELETE("/chat/:id/messages/:messageId", cfg.ChatHandler.DeleteMessage)
			protected.GET("/chat/:id/participants", cfg.ChatHandler.GetParticipants)
			protected.POST("/chat/:id/share", cfg.ChatHandler.Share)
			protected.POST("/chat/:id/fork", cfg.ChatHandler.Fork)
		}

		// Realtime (SSE / WebSocket)
		if cfg.RealtimeHandler != nil {
			protected.GET("/chat/:id/events", cfg.RealtimeHandler.Events)
			protected.GET("/chat/:id/ws", cfg.RealtimeHandler.WebSocket)
		}

		// Participants
		if cfg.ParticipantHandler != nil {
			protected.GET("/participants/llm", cfg.ParticipantHandler.ListLLMs)
			protected.POST("/participants/llm", cfg.ParticipantHandler.CreateLLM)
			protected.PATCH("/participants/llm/:id", cfg.ParticipantHandler.UpdateLLM)
			protected.POST("/participants/llm/:id/clone", cfg.ParticipantHandler.CloneLLM)
			protected.GET("/participants/personas", cfg.ParticipantHandler.ListPersonas)
			protected.POST("/participants/personas", cfg.ParticipantHandler.CreatePersona)
			protected.GET("/participants/personas/current", cfg.ParticipantHandler.CurrentPersona)
			protected.POST("/participants/personas/:id/default", cfg.ParticipantHandler.SetDefaultPersona)
			protected.DELETE("/participants/personas/:id", cfg.ParticipantHandler.DeletePersona)
		}

		// Job
		if cfg.JobHandler != nil {
			protected.GET("/jobs/:id", cfg.JobHandler.GetJob)
			protected.GET("/chat/:id/jobs", cfg.JobHandler.ListConversationJobs)
		}
	}

	return r
}
