package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	httpx "github.com/yungbote/nort-backend/internal/http"
	httpH "github.com/yungbote/nort-backend/internal/http/handlers"
	httpMW "github.com/yungbote/nort-backend/internal/http/middleware"
	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
)

type Middleware struct {
	Auth        *httpMW.AuthMiddleware
	PostLimiter *httpMW.UserRateLimiter
}

type Handlers struct {
	Health      *httpH.HealthHandler
	Auth        *httpH.AuthHandler
	Chat        *httpH.ChatHandler
	Participant *httpH.ParticipantHandler
	Realtime    *httpH.RealtimeHandler
	Job         *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, services Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:      httpH.NewHealthHandler(db),
		Auth:        httpH.NewAuthHandler(services.Auth),
		Chat:        httpH.NewChatHandler(services.Chat, services.Conversations),
		Participant: httpH.NewParticipantHandler(services.Participants),
		Realtime:    httpH.NewRealtimeHandler(log, hub, services.Chat, services.Conversations, cfg.Heartbeat),
		Job:         httpH.NewJobHandler(services.Jobs),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:        httpMW.NewAuthMiddleware(log, services.Auth),
		PostLimiter: httpMW.NewUserRateLimiter(cfg.PostRatePerSec, cfg.PostRateBurst),
	}
}

func wireRouter(log *logger.Logger, cfg Config, otel observability.OtelConfig, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return httpx.NewRouter(httpx.RouterConfig{
		Log:                log,
		AuthHandler:        handlers.Auth,
		ChatHandler:        handlers.Chat,
		ParticipantHandler: handlers.Participant,
		RealtimeHandler:    handlers.Realtime,
		JobHandler:         handlers.Job,
		HealthHandler:      handlers.Health,
		AuthMiddleware:     middleware.Auth,
		PostLimiter:        middleware.PostLimiter,
		Metrics:            metrics,
		CORSOrigins:        cfg.CORSOrigins,
		OtelEnabled:        otel.Enabled,
		ServiceName:        otel.ServiceName,
	})
}
