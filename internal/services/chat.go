package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/nort-backend/internal/domain"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/realtime"
)

// GenerationRequest asks for participant to answer the conversation as of trigger.
type GenerationRequest struct {
	ConversationID   uuid.UUID `json:"conversation_id"`
	TriggerMessageID uuid.UUID `json:"trigger_message_id"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	Depth            int       `json:"depth"`
}

// Enqueuer accepts generation work without waiting for it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req GenerationRequest) (*types.GenerationJob, error)
}

type PostInput struct {
	Content               string     `json:"content"`
	Title                 string     `json:"title"`
	ParentID              *uuid.UUID `json:"parent_id"`
	DesiredParticipantID  *uuid.UUID `json:"desired_participant_id"`
	ContinueParticipantID *uuid.UUID `json:"continue_participant_id"`
}

type PostResult struct {
	Conversation *types.Conversation  `json:"conversation"`
	Message      *types.MessageView   `json:"message"`
	Messages     []*types.MessageView `json:"messages"`
	Job          *types.GenerationJob `json:"job,omitempty"`
}

// ChatService is the write path behind the chat endpoints: store the user's message, announce
// it, and hand any requested reply to the job system.
type ChatService interface {
	StartConversation(ctx context.Context, userID uuid.UUID, in PostInput) (*PostResult, error)
	PostMessage(ctx context.Context, userID, conversationID uuid.UUID, in PostInput) (*PostResult, error)
	// Backlog replays messages after lastMessageID (uuid.Nil for the full history).
	Backlog(ctx context.Context, conversationID, lastMessageID uuid.UUID) realtime.Backlog
}

type chatService struct {
	log           *logger.Logger
	conversations ConversationService
	participants  ParticipantService
	notify        ConversationNotifier
	enqueuer      Enqueuer
}

func NewChatService(
	log *logger.Logger,
	conversations ConversationService,
	participants ParticipantService,
	notify ConversationNotifier,
	enqueuer Enqueuer,
) ChatService {
	return &chatService{
		log:           log.With("service", "ChatService"),
		conversations: conversations,
		participants:  participants,
		notify:        notify,
		enqueuer:      enqueuer,
	}
}

func (s *chatService) StartConversation(ctx context.Context, userID uuid.UUID, in PostInput) (*PostResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: message content is required", pkgerrors.ErrInvalidArgument)
	}
	if in.ContinueParticipantID != nil || in.ParentID != nil {
		return nil, fmt.Errorf("%w: a new conversation has nothing to continue", pkgerrors.ErrInvalidArgument)
	}
	if _, err := s.resolveTarget(ctx, userID, in.DesiredParticipantID); err != nil {
		return nil, err
	}
	conv, err := s.conversations.CreateConversation(ctx, userID, in.Title)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, userID, conv, in)
}

func (s *chatService) PostMessage(ctx context.Context, userID, conversationID uuid.UUID, in PostInput) (*PostResult, error) {
	access, err := s.conversations.CanUserAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite {
		return nil, fmt.Errorf("%w: not allowed to post in this conversation", pkgerrors.ErrForbidden)
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, userID, conv, in)
}

func (s *chatService) resolveTarget(ctx context.Context, userID uuid.UUID, id *uuid.UUID) (*types.Participant, error) {
	if id == nil || *id == uuid.Nil {
		return nil, nil
	}
	p, err := s.participants.GetParticipant(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown participant %s", pkgerrors.ErrInvalidArgument, *id)
	}
	if !CanUseLLM(p, userID) {
		return nil, fmt.Errorf("%w: participant %s cannot be addressed", pkgerrors.ErrInvalidArgument, *id)
	}
	return p, nil
}

func (s *chatService) post(ctx context.Context, userID uuid.UUID, conv *types.Conversation, in PostInput) (*PostResult, error) {
	persona, err := s.participants.GetCurrentPersona(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("current persona: %w", err)
	}

	var meta types.MessageMeta
	content := in.Content
	targetID := in.DesiredParticipantID
	if in.ContinueParticipantID != nil {
		// An empty continuation marker cues the participant to extend its last turn.
		meta.Continuation = true
		content = ""
		targetID = in.ContinueParticipantID
	} else if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", pkgerrors.ErrInvalidArgument)
	}
	target, err := s.resolveTarget(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if target != nil {
		tid := target.ID
		meta.TargetParticipantID = &tid
	}

	msg, err := s.conversations.CreateMessage(ctx, MessageInput{
		ConversationID: conv.ID,
		ParticipantID:  persona.ID,
		Content:        content,
		ParentID:       in.ParentID,
		Meta:           meta,
	})
	if err != nil {
		return nil, err
	}
	if msg.FirstFromParticipant {
		s.notify.ParticipantAdded(ctx, conv.ID, persona)
	}
	s.notify.MessageAdded(ctx, msg)

	result := &PostResult{Conversation: conv, Message: msg}
	if target != nil && s.enqueuer != nil {
		job, err := s.enqueuer.Enqueue(ctx, GenerationRequest{
			ConversationID:   conv.ID,
			TriggerMessageID: msg.ID,
			ParticipantID:    target.ID,
		})
		if err != nil {
			s.log.Error("Enqueue generation failed", "conversation_id", conv.ID, "participant_id", target.ID, "error", err)
		} else {
			result.Job = job
		}
	}

	msgs, err := s.conversations.GetConversationMessages(ctx, conv.ID)
	if err != nil {
		s.log.Warn("Reload messages failed", "conversation_id", conv.ID, "error", err)
		msgs = []*types.MessageView{msg}
	}
	result.Messages = msgs
	return result, nil
}

func (s *chatService) Backlog(ctx context.Context, conversationID, lastMessageID uuid.UUID) realtime.Backlog {
	return func() ([]realtime.Event, error) {
		msgs, err := s.conversations.GetConversationMessagesAfter(ctx, conversationID, lastMessageID)
		if err != nil {
			return nil, err
		}
		out := make([]realtime.Event, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, MessageAddedEvent(m))
		}
		return out, nil
	}
}
