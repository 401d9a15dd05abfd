package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/data/repos"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type Repos struct {
	User               repos.UserRepo
	UserToken          repos.UserTokenRepo
	Conversation       repos.ConversationRepo
	Message            repos.MessageRepo
	Participant        repos.ParticipantRepo
	ConversationAccess repos.ConversationAccessRepo
	ConversationGrant  repos.ConversationGrantRepo
	GenerationJob      repos.GenerationJobRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:               repos.NewUserRepo(db, log),
		UserToken:          repos.NewUserTokenRepo(db, log),
		Conversation:       repos.NewConversationRepo(db, log),
		Message:            repos.NewMessageRepo(db, log),
		Participant:        repos.NewParticipantRepo(db, log),
		ConversationAccess: repos.NewConversationAccessRepo(db, log),
		ConversationGrant:  repos.NewConversationGrantRepo(db, log),
		GenerationJob:      repos.NewGenerationJobRepo(db, log),
	}
}
