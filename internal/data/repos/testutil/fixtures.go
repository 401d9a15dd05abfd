package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	types "github.com/yungbote/nort-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, username string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "pw",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedPersona(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, name string, isDefault bool) *types.Participant {
	tb.Helper()
	p := &types.Participant{
		ID:        uuid.New(),
		Name:      name,
		Type:      types.ParticipantTypeUser,
		UserID:    PtrUUID(userID),
		Private:   true,
		IsDefault: isDefault,
		Metadata:  datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed persona: %v", err)
	}
	return p
}

func SeedLLM(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID *uuid.UUID, name string, private bool, cfg types.LLMConfig) *types.Participant {
	tb.Helper()
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are " + name + "."
	}
	meta, err := json.Marshal(cfg)
	if err != nil {
		tb.Fatalf("seed llm metadata: %v", err)
	}
	p := &types.Participant{
		ID:       uuid.New(),
		Name:     name,
		Type:     types.ParticipantTypeLLM,
		UserID:   ownerID,
		Private:  private,
		Metadata: datatypes.JSON(meta),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed llm: %v", err)
	}
	return p
}

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, visibility string) *types.Conversation {
	tb.Helper()
	c := &types.Conversation{
		ID:              uuid.New(),
		Title:           "conversation",
		CreatedByUserID: ownerID,
		Visibility:      visibility,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

// SeedMessage appends a message with the next free seq for the conversation.
func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, convID, participantID uuid.UUID, parentID *uuid.UUID, content string) *types.Message {
	tb.Helper()
	var maxSeq int64
	if err := tx.WithContext(ctx).
		Model(&types.Message{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("conversation_id = ?", convID).
		Scan(&maxSeq).Error; err != nil {
		tb.Fatalf("seed message seq: %v", err)
	}
	m := &types.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		ParticipantID:  participantID,
		ParentID:       parentID,
		Seq:            maxSeq + 1,
		Content:        content,
		Metadata:       datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	if err := tx.WithContext(ctx).
		Model(&types.Conversation{}).
		Where("id = ?", convID).
		Update("next_seq", m.Seq).Error; err != nil {
		tb.Fatalf("seed message next_seq: %v", err)
	}
	return m
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }
