package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// GenerationJob is the persisted record of one generate-next-turn job.
type GenerationJob struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	TriggerMessageID uuid.UUID  `gorm:"type:uuid;column:trigger_message_id;not null;index" json:"trigger_message_id"`
	ParticipantID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"participant_id"`
	ReplyMessageID   *uuid.UUID `gorm:"type:uuid;column:reply_message_id" json:"reply_message_id,omitempty"`
	Status           string     `gorm:"column:status;not null;index" json:"status"`
	Depth            int        `gorm:"column:depth;not null" json:"depth"`
	Error            string     `gorm:"column:error" json:"error,omitempty"`
	StartedAt        *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GenerationJob) TableName() string { return "generation_job" }

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobStatusQueued
	}
	return nil
}

func (j *GenerationJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
