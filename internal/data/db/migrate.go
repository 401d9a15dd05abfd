package db

import (
	"fmt"

	types "github.com/yungbote/nort-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// =========================
		// Identity + auth
		// =========================
		&types.User{},
		&types.UserToken{},

		// =========================
		// Conversations
		// =========================
		&types.Participant{},
		&types.Conversation{},
		&types.Message{},
		&types.ConversationAccess{},
		&types.ConversationGrant{},

		// =========================
		// Jobs
		// =========================
		&types.GenerationJob{},
	)
}

// EnsureChatIndexes adds the postgres-only partial index that backs the one-default-persona rule.
func EnsureChatIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_participant_default_per_user
		ON participant(user_id)
		WHERE is_default = true AND type = 'user' AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_participant_default_per_user: %w", err)
	}
	return nil
}
