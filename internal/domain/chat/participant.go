package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ParticipantTypeUser = "user"
	ParticipantTypeLLM  = "llm"
)

// Participant is any actor able to author messages: a user persona or an LLM agent.
type Participant struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string         `gorm:"column:name;not null" json:"name"`
	Type        string         `gorm:"column:type;not null;index" json:"type"`
	UserID      *uuid.UUID     `gorm:"type:uuid;column:user_id;index" json:"user_id,omitempty"`
	Description string         `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Private     bool           `gorm:"column:private;not null" json:"private"`
	IsDefault   bool           `gorm:"column:is_default;not null;index" json:"is_default"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Participant) TableName() string { return "participant" }

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if len(p.Metadata) == 0 {
		p.Metadata = datatypes.JSON([]byte("{}"))
	}
	return nil
}

func (p *Participant) IsLLM() bool { return p != nil && p.Type == ParticipantTypeLLM }

// OwnedBy reports whether userID owns the participant.
func (p *Participant) OwnedBy(userID uuid.UUID) bool {
	return p != nil && p.UserID != nil && *p.UserID == userID
}

// LLMConfig is the generation metadata carried by llm participants.
type LLMConfig struct {
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Model        string   `json:"model,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Protocol     string   `json:"protocol,omitempty"`
}

// Config decodes the participant's metadata. Malformed metadata yields a zero config.
func (p *Participant) Config() LLMConfig {
	var cfg LLMConfig
	if p == nil || len(p.Metadata) == 0 {
		return cfg
	}
	_ = json.Unmarshal(p.Metadata, &cfg)
	return cfg
}
