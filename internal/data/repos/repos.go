package repos

import (
	"github.com/yungbote/nort-backend/internal/data/repos/auth"
	"github.com/yungbote/nort-backend/internal/data/repos/chat"
	"github.com/yungbote/nort-backend/internal/data/repos/jobs"
	"github.com/yungbote/nort-backend/internal/data/repos/user"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

type UserRepo = user.UserRepo
type UserTokenRepo = auth.UserTokenRepo

type ConversationRepo = chat.ConversationRepo
type MessageRepo = chat.MessageRepo
type ParticipantRepo = chat.ParticipantRepo
type ConversationAccessRepo = chat.ConversationAccessRepo
type ConversationGrantRepo = chat.ConversationGrantRepo

type GenerationJobRepo = jobs.GenerationJobRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return user.NewUserRepo(db, baseLog) }
func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
	return auth.NewUserTokenRepo(db, baseLog)
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return chat.NewConversationRepo(db, baseLog)
}
func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(db, baseLog)
}
func NewParticipantRepo(db *gorm.DB, baseLog *logger.Logger) ParticipantRepo {
	return chat.NewParticipantRepo(db, baseLog)
}
func NewConversationAccessRepo(db *gorm.DB, baseLog *logger.Logger) ConversationAccessRepo {
	return chat.NewConversationAccessRepo(db, baseLog)
}
func NewConversationGrantRepo(db *gorm.DB, baseLog *logger.Logger) ConversationGrantRepo {
	return chat.NewConversationGrantRepo(db, baseLog)
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return jobs.NewGenerationJobRepo(db, baseLog)
}
