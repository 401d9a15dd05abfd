package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Message struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_message_conversation_seq,priority:1" json:"conversation_id"`
	ParticipantID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"participant_id"`
	ParentID       *uuid.UUID `gorm:"type:uuid;column:parent_id;index" json:"parent_id,omitempty"`

	Seq int64 `gorm:"column:seq;not null;uniqueIndex:idx_message_conversation_seq,priority:2" json:"seq"`

	Content  string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Message) TableName() string { return "message" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if len(m.Metadata) == 0 {
		m.Metadata = datatypes.JSON([]byte("{}"))
	}
	return nil
}

// MessageMeta is the typed view over Message.Metadata.
type MessageMeta struct {
	Continuation        bool       `json:"continuation,omitempty"`
	TargetParticipantID *uuid.UUID `json:"target_participant_id,omitempty"`
	ChainDepth          int        `json:"chain_depth,omitempty"`
	Protocol            string     `json:"protocol,omitempty"`
}

func (m MessageMeta) JSON() datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

func DecodeMessageMeta(raw datatypes.JSON) MessageMeta {
	var meta MessageMeta
	if len(raw) == 0 {
		return meta
	}
	_ = json.Unmarshal(raw, &meta)
	return meta
}

// MessageView is a Message with its author's display fields denormalized.
type MessageView struct {
	Message
	ParticipantName     string         `gorm:"column:participant_name" json:"participant_name"`
	ParticipantType     string         `gorm:"column:participant_type" json:"participant_type"`
	ParticipantMetadata datatypes.JSON `gorm:"column:participant_metadata" json:"participant_metadata,omitempty"`

	// FirstFromParticipant is set by the write path when this is the author's first message
	// in the conversation.
	FirstFromParticipant bool `gorm:"-" json:"-"`
}

func (v *MessageView) Meta() MessageMeta { return DecodeMessageMeta(v.Metadata) }

func (v *MessageView) IsContinuation() bool { return v.Meta().Continuation }
