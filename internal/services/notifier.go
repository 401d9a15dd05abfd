package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/realtime"
)

// ConversationNotifier turns conversation changes into live events.
type ConversationNotifier interface {
	MessageAdded(ctx context.Context, msg *types.MessageView)
	TypingStarted(ctx context.Context, conversationID uuid.UUID, p *types.Participant)
	TypingStopped(ctx context.Context, conversationID uuid.UUID, p *types.Participant)
	Error(ctx context.Context, conversationID uuid.UUID, code, message string)
	ParticipantAdded(ctx context.Context, conversationID uuid.UUID, p *types.Participant)
	ParticipantRemoved(ctx context.Context, conversationID, participantID uuid.UUID)
	ParticipantUpdated(ctx context.Context, conversationID uuid.UUID, p *types.Participant)
}

type conversationNotifier struct {
	emit Emitter
}

func NewConversationNotifier(emit Emitter) ConversationNotifier {
	return &conversationNotifier{emit: emit}
}

// MessageAddedEvent is shared by live publishes and backlog replay.
func MessageAddedEvent(msg *types.MessageView) realtime.Event {
	return realtime.Event{
		ConversationID: msg.ConversationID,
		Type:           realtime.EventMessageAdded,
		Seq:            msg.Seq,
		Data:           map[string]any{"message": msg},
	}
}

func (n *conversationNotifier) MessageAdded(ctx context.Context, msg *types.MessageView) {
	if n == nil || n.emit == nil || msg == nil {
		return
	}
	n.emit.Emit(ctx, MessageAddedEvent(msg))
}

func (n *conversationNotifier) typing(ctx context.Context, t realtime.EventType, conversationID uuid.UUID, p *types.Participant) {
	if n == nil || n.emit == nil || p == nil {
		return
	}
	n.emit.Emit(ctx, realtime.Event{
		ConversationID: conversationID,
		Type:           t,
		Data:           realtime.TypingPayload{ParticipantID: p.ID, ParticipantName: p.Name},
	})
}

func (n *conversationNotifier) TypingStarted(ctx context.Context, conversationID uuid.UUID, p *types.Participant) {
	n.typing(ctx, realtime.EventTypingStarted, conversationID, p)
}

func (n *conversationNotifier) TypingStopped(ctx context.Context, conversationID uuid.UUID, p *types.Participant) {
	n.typing(ctx, realtime.EventTypingStopped, conversationID, p)
}

func (n *conversationNotifier) Error(ctx context.Context, conversationID uuid.UUID, code, message string) {
	if n == nil || n.emit == nil {
		return
	}
	n.emit.Emit(ctx, realtime.Event{
		ConversationID: conversationID,
		Type:           realtime.EventError,
		Data:           realtime.ErrorPayload{Code: code, Message: message},
	})
}

func (n *conversationNotifier) ParticipantUpdated(ctx context.Context, conversationID uuid.UUID, p *types.Participant) {
	if n == nil || n.emit == nil || p == nil {
		return
	}
	n.emit.Emit(ctx, realtime.Event{
		ConversationID: conversationID,
		Type:           realtime.EventParticipantUpdated,
		Data:           map[string]any{"participant": p},
	})
}

// ParticipantAdded announces an author's first message in the conversation.
func (n *conversationNotifier) ParticipantAdded(ctx context.Context, conversationID uuid.UUID, p *types.Participant) {
	if n == nil || n.emit == nil || p == nil {
		return
	}
	n.emit.Emit(ctx, realtime.Event{
		ConversationID: conversationID,
		Type:           realtime.EventParticipantAdded,
		Data:           map[string]any{"participant": p},
	})
}

func (n *conversationNotifier) ParticipantRemoved(ctx context.Context, conversationID, participantID uuid.UUID) {
	if n == nil || n.emit == nil {
		return
	}
	n.emit.Emit(ctx, realtime.Event{
		ConversationID: conversationID,
		Type:           realtime.EventParticipantRemoved,
		Data:           map[string]any{"participant_id": participantID},
	})
}
