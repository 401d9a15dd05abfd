package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

const DefaultConversationTitle = "New Conversation"

type Access struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

type MessageInput struct {
	ConversationID uuid.UUID
	ParticipantID  uuid.UUID
	Content        string
	ParentID       *uuid.UUID
	Meta           types.MessageMeta
}

type SharedConversation struct {
	Conversation *types.Conversation  `json:"conversation"`
	Messages     []*types.MessageView `json:"messages"`
	AccessType   string               `json:"access_type"`
	Access       Access               `json:"access"`
}

// ConversationService owns conversations, their messages and their share state.
type ConversationService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*types.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error)
	ListUserConversations(ctx context.Context, userID uuid.UUID) ([]*types.Conversation, error)
	// CreateMessage assigns the next seq under the conversation row lock.
	CreateMessage(ctx context.Context, in MessageInput) (*types.MessageView, error)
	GetConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]*types.MessageView, error)
	// GetConversationMessagesAfter returns messages created after messageID. An unknown id
	// yields the full history.
	GetConversationMessagesAfter(ctx context.Context, conversationID, messageID uuid.UUID) ([]*types.MessageView, error)
	GetMessageByID(ctx context.Context, id uuid.UUID) (*types.MessageView, error)
	DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) error
	ForkConversation(ctx context.Context, conversationID, userID uuid.UUID, title string) (*types.Conversation, error)
	CanUserAccessConversation(ctx context.Context, conversationID, userID uuid.UUID) (Access, error)
	CreateShareLink(ctx context.Context, conversationID, userID uuid.UUID, accessType string) (*types.ConversationAccess, error)
	// GetConversationByShareToken redeems token for userID, recording a grant.
	GetConversationByShareToken(ctx context.Context, token string, userID uuid.UUID) (*SharedConversation, error)
	GetConversationParticipants(ctx context.Context, conversationID, userID uuid.UUID) ([]*types.Participant, error)
}

type conversationService struct {
	db               *gorm.DB
	log              *logger.Logger
	conversationRepo repos.ConversationRepo
	messageRepo      repos.MessageRepo
	participantRepo  repos.ParticipantRepo
	accessRepo       repos.ConversationAccessRepo
	grantRepo        repos.ConversationGrantRepo
}

func NewConversationService(
	db *gorm.DB,
	log *logger.Logger,
	conversationRepo repos.ConversationRepo,
	messageRepo repos.MessageRepo,
	participantRepo repos.ParticipantRepo,
	accessRepo repos.ConversationAccessRepo,
	grantRepo repos.ConversationGrantRepo,
) ConversationService {
	return &conversationService{
		db:               db,
		log:              log.With("service", "ConversationService"),
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		participantRepo:  participantRepo,
		accessRepo:       accessRepo,
		grantRepo:        grantRepo,
	}
}

func (s *conversationService) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.ErrUnauthorized
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}
	rows, err := s.conversationRepo.Create(dbctx.Context{Ctx: ctx}, []*types.Conversation{{
		Title:           title,
		CreatedByUserID: userID,
		Visibility:      types.VisibilityPrivate,
	}})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return rows[0], nil
}

func (s *conversationService) GetConversation(ctx context.Context, id uuid.UUID) (*types.Conversation, error) {
	return s.conversationRepo.GetByID(dbctx.Context{Ctx: ctx}, id)
}

func (s *conversationService) ListUserConversations(ctx context.Context, userID uuid.UUID) ([]*types.Conversation, error) {
	return s.conversationRepo.ListForUser(dbctx.Context{Ctx: ctx}, userID, 200)
}

func (s *conversationService) CreateMessage(ctx context.Context, in MessageInput) (*types.MessageView, error) {
	if in.ConversationID == uuid.Nil || in.ParticipantID == uuid.Nil {
		return nil, fmt.Errorf("%w: conversation and participant are required", pkgerrors.ErrInvalidArgument)
	}
	var (
		id    uuid.UUID
		first bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		seq, err := s.conversationRepo.NextSeq(dbc, in.ConversationID)
		if err != nil {
			return err
		}
		if in.ParentID != nil {
			parent, err := s.messageRepo.GetByID(dbc, *in.ParentID)
			if err != nil {
				if errors.Is(err, pkgerrors.ErrNotFound) {
					return fmt.Errorf("%w: parent message %s not found", pkgerrors.ErrInvalidArgument, *in.ParentID)
				}
				return err
			}
			if parent.ConversationID != in.ConversationID {
				return fmt.Errorf("%w: parent message belongs to another conversation", pkgerrors.ErrInvalidArgument)
			}
		}
		rows, err := s.messageRepo.Create(dbc, []*types.Message{{
			ConversationID: in.ConversationID,
			ParticipantID:  in.ParticipantID,
			ParentID:       in.ParentID,
			Seq:            seq,
			Content:        in.Content,
			Metadata:       in.Meta.JSON(),
		}})
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		id = rows[0].ID
		n, err := s.messageRepo.CountByParticipant(dbc, in.ConversationID, in.ParticipantID)
		if err != nil {
			return err
		}
		first = n == 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	view, err := s.messageRepo.GetView(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	view.FirstFromParticipant = first
	return view, nil
}

func (s *conversationService) GetConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]*types.MessageView, error) {
	return s.messageRepo.ListViews(dbctx.Context{Ctx: ctx}, conversationID)
}

func (s *conversationService) GetConversationMessagesAfter(ctx context.Context, conversationID, messageID uuid.UUID) ([]*types.MessageView, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if messageID == uuid.Nil {
		return s.messageRepo.ListViews(dbc, conversationID)
	}
	anchor, err := s.messageRepo.GetByID(dbc, messageID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return s.messageRepo.ListViews(dbc, conversationID)
		}
		return nil, err
	}
	if anchor.ConversationID != conversationID {
		return s.messageRepo.ListViews(dbc, conversationID)
	}
	return s.messageRepo.ListViewsAfterSeq(dbc, conversationID, anchor.Seq)
}

func (s *conversationService) GetMessageByID(ctx context.Context, id uuid.UUID) (*types.MessageView, error) {
	return s.messageRepo.GetView(dbctx.Context{Ctx: ctx}, id)
}

// DeleteMessage is reserved to the conversation owner.
func (s *conversationService) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	msg, err := s.messageRepo.GetByID(dbc, messageID)
	if err != nil {
		return err
	}
	conv, err := s.conversationRepo.GetByID(dbc, msg.ConversationID)
	if err != nil {
		return err
	}
	if conv.CreatedByUserID != userID {
		return fmt.Errorf("%w: only the conversation owner can delete a message", pkgerrors.ErrForbidden)
	}
	return s.messageRepo.Delete(dbc, messageID)
}

// ForkConversation copies the messages userID may see into a new private conversation. A
// copied message whose parent was skipped hangs off its nearest copied ancestor.
func (s *conversationService) ForkConversation(ctx context.Context, conversationID, userID uuid.UUID, title string) (*types.Conversation, error) {
	access, err := s.CanUserAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead {
		return nil, fmt.Errorf("%w: cannot fork a conversation you cannot read", pkgerrors.ErrForbidden)
	}

	var forked *types.Conversation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		src, err := s.conversationRepo.GetByID(dbc, conversationID)
		if err != nil {
			return err
		}
		all, err := s.messageRepo.ListByConversation(dbc, conversationID)
		if err != nil {
			return err
		}
		visible, err := s.messageRepo.ListVisibleTo(dbc, conversationID, userID)
		if err != nil {
			return err
		}

		title = strings.TrimSpace(title)
		if title == "" {
			title = "Fork of " + src.Title
		}
		srcID := src.ID
		convs, err := s.conversationRepo.Create(dbc, []*types.Conversation{{
			Title:           title,
			CreatedByUserID: userID,
			Visibility:      types.VisibilityPrivate,
			ForkedFromID:    &srcID,
		}})
		if err != nil {
			return fmt.Errorf("create fork: %w", err)
		}
		forked = convs[0]

		copies := forkMessages(forked.ID, all, visible)
		if len(copies) > 0 {
			if _, err := s.messageRepo.Create(dbc, copies); err != nil {
				return fmt.Errorf("copy messages: %w", err)
			}
		}
		forked.NextSeq = int64(len(copies))
		return s.conversationRepo.UpdateFields(dbc, forked.ID, map[string]interface{}{"next_seq": forked.NextSeq})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Conversation forked", "source_id", conversationID, "fork_id", forked.ID, "user_id", userID)
	return forked, nil
}

// forkMessages builds the copies for a fork. all supplies the parent chain of skipped
// messages; visible is ordered by seq.
func forkMessages(forkID uuid.UUID, all, visible []*types.Message) []*types.Message {
	parentOf := make(map[uuid.UUID]*uuid.UUID, len(all))
	for _, m := range all {
		parentOf[m.ID] = m.ParentID
	}
	copied := make(map[uuid.UUID]uuid.UUID, len(visible))
	out := make([]*types.Message, 0, len(visible))
	for i, m := range visible {
		newID := uuid.New()
		var parent *uuid.UUID
		for p := m.ParentID; p != nil; p = parentOf[*p] {
			if c, ok := copied[*p]; ok {
				c := c
				parent = &c
				break
			}
		}
		out = append(out, &types.Message{
			ID:             newID,
			ConversationID: forkID,
			ParticipantID:  m.ParticipantID,
			ParentID:       parent,
			Seq:            int64(i + 1),
			Content:        m.Content,
			Metadata:       m.Metadata,
			CreatedAt:      m.CreatedAt,
		})
		copied[m.ID] = newID
	}
	return out
}

func (s *conversationService) CanUserAccessConversation(ctx context.Context, conversationID, userID uuid.UUID) (Access, error) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.conversationRepo.GetByID(dbc, conversationID)
	if err != nil {
		return Access{}, err
	}
	if conv.CreatedByUserID == userID {
		return Access{CanRead: true, CanWrite: true}, nil
	}
	if conv.Visibility != types.VisibilityShared {
		return Access{}, nil
	}
	grant, err := s.grantRepo.Get(dbc, conversationID, userID)
	if err != nil {
		return Access{}, err
	}
	return Access{CanRead: true, CanWrite: grant != nil && grant.AccessType == types.AccessWrite}, nil
}

func (s *conversationService) CreateShareLink(ctx context.Context, conversationID, userID uuid.UUID, accessType string) (*types.ConversationAccess, error) {
	accessType = strings.ToLower(strings.TrimSpace(accessType))
	if types.AccessRank(accessType) == 0 {
		return nil, fmt.Errorf("%w: access_type must be \"read\" or \"write\"", pkgerrors.ErrInvalidArgument)
	}
	access, err := s.CanUserAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite {
		return nil, fmt.Errorf("%w: not allowed to share this conversation", pkgerrors.ErrForbidden)
	}
	token, err := newShareToken()
	if err != nil {
		return nil, err
	}
	var out *types.ConversationAccess
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		rows, err := s.accessRepo.Create(dbc, []*types.ConversationAccess{{
			ConversationID: conversationID,
			ShareToken:     token,
			AccessType:     accessType,
		}})
		if err != nil {
			return fmt.Errorf("create share link: %w", err)
		}
		out = rows[0]
		return s.conversationRepo.UpdateFields(dbc, conversationID, map[string]interface{}{"visibility": types.VisibilityShared})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *conversationService) GetConversationByShareToken(ctx context.Context, token string, userID uuid.UUID) (*SharedConversation, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.accessRepo.GetByToken(dbc, strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	conv, err := s.conversationRepo.GetByID(dbc, row.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.CreatedByUserID != userID {
		if _, err := s.grantRepo.Upsert(dbc, conv.ID, userID, row.AccessType); err != nil {
			return nil, fmt.Errorf("record grant: %w", err)
		}
	}
	access, err := s.CanUserAccessConversation(ctx, conv.ID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messageRepo.ListViews(dbc, conv.ID)
	if err != nil {
		return nil, err
	}
	return &SharedConversation{Conversation: conv, Messages: msgs, AccessType: row.AccessType, Access: access}, nil
}

func (s *conversationService) GetConversationParticipants(ctx context.Context, conversationID, userID uuid.UUID) ([]*types.Participant, error) {
	access, err := s.CanUserAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !access.CanRead {
		return nil, pkgerrors.ErrForbidden
	}
	return s.participantRepo.ListConversationAuthors(dbctx.Context{Ctx: ctx}, conversationID, userID)
}
