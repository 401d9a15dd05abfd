package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// ConversationAccess is an issued share capability bound to one conversation.
type ConversationAccess struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	ShareToken     string    `gorm:"column:share_token;not null;uniqueIndex" json:"share_token"`
	AccessType     string    `gorm:"column:access_type;not null" json:"access_type"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ConversationAccess) TableName() string { return "conversation_access" }

func (a *ConversationAccess) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ConversationGrant records that a user redeemed a share token.
type ConversationGrant struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_grant_pair,priority:1" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_grant_pair,priority:2;index" json:"user_id"`
	AccessType     string    `gorm:"column:access_type;not null" json:"access_type"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ConversationGrant) TableName() string { return "conversation_grant" }

func (g *ConversationGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// AccessRank orders access types so the strongest grant wins.
func AccessRank(accessType string) int {
	switch accessType {
	case AccessWrite:
		return 2
	case AccessRead:
		return 1
	default:
		return 0
	}
}
