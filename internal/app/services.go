package app

import (
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/jobs/dispatcher"
	"github.com/yungbote/nort-backend/internal/jobs/queue"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
	"github.com/yungbote/nort-backend/internal/services"
)

type Services struct {
	Auth          services.AuthService
	Conversations services.ConversationService
	Participants  services.ParticipantService
	Generation    services.GenerationService
	Chat          services.ChatService
	Jobs          services.JobService
	Notifier      services.ConversationNotifier

	Dispatcher *dispatcher.Dispatcher
	// AsynqEnqueuer and AsynqServer are set when QUEUE_BACKEND=asynq.
	AsynqEnqueuer *queue.Enqueuer
	AsynqServer   *queue.Server
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, c Clients, hub *realtime.Hub) Services {
	log.Info("Wiring services...")

	// Events go through redis when it is configured so every node's viewers see them.
	var emitter services.Emitter = &services.HubEmitter{Hub: hub}
	if c.EventBus != nil {
		emitter = &services.RedisEmitter{Bus: c.EventBus, Log: log}
	}
	notify := services.NewConversationNotifier(emitter)

	auth := services.NewAuthService(db, log, r.User, r.UserToken, r.Participant, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	conversations := services.NewConversationService(db, log, r.Conversation, r.Message, r.Participant, r.ConversationAccess, r.ConversationGrant)
	participants := services.NewParticipantService(db, log, r.Participant, r.Message, notify)
	generation := services.NewGenerationService(log, c.Completion, cfg.Generation)
	disp := dispatcher.New(log, cfg.Dispatcher, r.GenerationJob, conversations, participants, generation, notify)

	out := Services{
		Auth:          auth,
		Conversations: conversations,
		Participants:  participants,
		Generation:    generation,
		Jobs:          services.NewJobService(log, r.GenerationJob, conversations),
		Notifier:      notify,
		Dispatcher:    disp,
	}

	var enqueuer services.Enqueuer = disp
	if cfg.QueueBackend == QueueBackendAsynq {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		out.AsynqEnqueuer = queue.NewEnqueuer(log, redisOpt, disp, cfg.QueueName)
		out.AsynqServer = queue.NewServer(log, redisOpt, cfg.AsynqServer, r.GenerationJob, disp)
		enqueuer = out.AsynqEnqueuer
	}
	out.Chat = services.NewChatService(log, conversations, participants, notify, enqueuer)
	return out
}
