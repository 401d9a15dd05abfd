package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
)

type Conversation struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string     `gorm:"column:title;not null;default:'New Conversation'" json:"title"`
	CreatedByUserID uuid.UUID  `gorm:"type:uuid;column:created_by_user_id;not null;index" json:"created_by_user_id"`
	Visibility      string     `gorm:"column:visibility;not null;default:'private';index" json:"visibility"`
	ForkedFromID    *uuid.UUID `gorm:"type:uuid;column:forked_from_id;index" json:"forked_from_id,omitempty"`

	// Concurrency-safe per-conversation sequencing.
	NextSeq int64 `gorm:"column:next_seq;not null;default:0" json:"next_seq"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Conversation) TableName() string { return "conversation" }

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Visibility == "" {
		c.Visibility = VisibilityPrivate
	}
	return nil
}
