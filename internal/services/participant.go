package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/chat/protocol"
	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type LLMInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Private      *bool    `json:"private"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	Model        string   `json:"model"`
	MaxTokens    int      `json:"max_tokens"`
	Protocol     string   `json:"protocol"`
}

// LLMUpdate carries only the fields being changed.
type LLMUpdate struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Private      *bool    `json:"private"`
	SystemPrompt *string  `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	Model        *string  `json:"model"`
	MaxTokens    *int     `json:"max_tokens"`
	Protocol     *string  `json:"protocol"`
}

type ParticipantService interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*types.Participant, error)
	ListLLMParticipants(ctx context.Context, userID uuid.UUID) ([]*types.Participant, error)
	CreateLLM(ctx context.Context, userID uuid.UUID, in LLMInput) (*types.Participant, error)
	UpdateLLM(ctx context.Context, userID, id uuid.UUID, in LLMUpdate) (*types.Participant, error)
	SetParticipantPrivacy(ctx context.Context, userID, id uuid.UUID, private bool) (*types.Participant, error)
	CloneLLM(ctx context.Context, userID, id uuid.UUID) (*types.Participant, error)

	ListPersonas(ctx context.Context, userID uuid.UUID) ([]*types.Participant, error)
	GetCurrentPersona(ctx context.Context, userID uuid.UUID) (*types.Participant, error)
	CreatePersona(ctx context.Context, userID uuid.UUID, name, description string) (*types.Participant, error)
	SetDefaultPersona(ctx context.Context, userID, id uuid.UUID) (*types.Participant, error)
	DeletePersona(ctx context.Context, userID, id uuid.UUID) error
}

// CanUseLLM reports whether userID may address p.
func CanUseLLM(p *types.Participant, userID uuid.UUID) bool {
	return p.IsLLM() && (!p.Private || p.OwnedBy(userID))
}

type participantService struct {
	db              *gorm.DB
	log             *logger.Logger
	participantRepo repos.ParticipantRepo
	messageRepo     repos.MessageRepo
	notify          ConversationNotifier
}

func NewParticipantService(
	db *gorm.DB,
	log *logger.Logger,
	participantRepo repos.ParticipantRepo,
	messageRepo repos.MessageRepo,
	notify ConversationNotifier,
) ParticipantService {
	return &participantService{
		db:              db,
		log:             log.With("service", "ParticipantService"),
		participantRepo: participantRepo,
		messageRepo:     messageRepo,
		notify:          notify,
	}
}

func (s *participantService) GetParticipant(ctx context.Context, id uuid.UUID) (*types.Participant, error) {
	return s.participantRepo.GetByID(dbctx.Context{Ctx: ctx}, id)
}

func (s *participantService) ListLLMParticipants(ctx context.Context, userID uuid.UUID) ([]*types.Participant, error) {
	return s.participantRepo.ListLLMVisibleTo(dbctx.Context{Ctx: ctx}, userID)
}

func validateLLMConfig(cfg types.LLMConfig) error {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return fmt.Errorf("%w: system_prompt is required", pkgerrors.ErrInvalidArgument)
	}
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0 and 2", pkgerrors.ErrInvalidArgument)
	}
	if cfg.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", pkgerrors.ErrInvalidArgument)
	}
	if _, err := protocol.New(cfg.Protocol, protocol.Options{}); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}
	return nil
}

func encodeConfig(cfg types.LLMConfig) (datatypes.JSON, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (s *participantService) CreateLLM(ctx context.Context, userID uuid.UUID, in LLMInput) (*types.Participant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", pkgerrors.ErrInvalidArgument)
	}
	cfg := types.LLMConfig{
		SystemPrompt: in.SystemPrompt,
		Temperature:  in.Temperature,
		Model:        strings.TrimSpace(in.Model),
		MaxTokens:    in.MaxTokens,
		Protocol:     strings.ToLower(strings.TrimSpace(in.Protocol)),
	}
	if err := validateLLMConfig(cfg); err != nil {
		return nil, err
	}
	meta, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	private := true
	if in.Private != nil {
		private = *in.Private
	}
	owner := userID
	rows, err := s.participantRepo.Create(dbctx.Context{Ctx: ctx}, []*types.Participant{{
		Name:        name,
		Type:        types.ParticipantTypeLLM,
		UserID:      &owner,
		Description: strings.TrimSpace(in.Description),
		Private:     private,
		Metadata:    meta,
	}})
	if err != nil {
		return nil, fmt.Errorf("create llm participant: %w", err)
	}
	return rows[0], nil
}

func (s *participantService) UpdateLLM(ctx context.Context, userID, id uuid.UUID, in LLMUpdate) (*types.Participant, error) {
	dbc := dbctx.Context{Ctx: ctx}
	p, err := s.participantRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if !p.IsLLM() {
		return nil, fmt.Errorf("%w: participant is not an llm", pkgerrors.ErrInvalidArgument)
	}
	if !p.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: only the owner can edit this participant", pkgerrors.ErrForbidden)
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", pkgerrors.ErrInvalidArgument)
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Private != nil {
		updates["private"] = *in.Private
	}
	cfg := p.Config()
	cfgChanged := false
	if in.SystemPrompt != nil {
		cfg.SystemPrompt, cfgChanged = *in.SystemPrompt, true
	}
	if in.Temperature != nil {
		cfg.Temperature, cfgChanged = in.Temperature, true
	}
	if in.Model != nil {
		cfg.Model, cfgChanged = strings.TrimSpace(*in.Model), true
	}
	if in.MaxTokens != nil {
		cfg.MaxTokens, cfgChanged = *in.MaxTokens, true
	}
	if in.Protocol != nil {
		cfg.Protocol, cfgChanged = strings.ToLower(strings.TrimSpace(*in.Protocol)), true
	}
	if cfgChanged {
		if err := validateLLMConfig(cfg); err != nil {
			return nil, err
		}
		meta, err := encodeConfig(cfg)
		if err != nil {
			return nil, err
		}
		updates["metadata"] = meta
	}
	if len(updates) == 0 {
		return p, nil
	}
	if err := s.participantRepo.UpdateFields(dbc, id, updates); err != nil {
		return nil, err
	}
	updated, err := s.participantRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	s.broadcastUpdate(ctx, updated)
	return updated, nil
}

// broadcastUpdate tells every conversation the participant spoke in.
func (s *participantService) broadcastUpdate(ctx context.Context, p *types.Participant) {
	convIDs, err := s.messageRepo.ListConversationIDsByParticipant(dbctx.Context{Ctx: ctx}, p.ID)
	if err != nil {
		s.log.Warn("List participant conversations failed", "participant_id", p.ID, "error", err)
		return
	}
	for _, id := range convIDs {
		s.notify.ParticipantUpdated(ctx, id, p)
	}
}

func (s *participantService) SetParticipantPrivacy(ctx context.Context, userID, id uuid.UUID, private bool) (*types.Participant, error) {
	return s.UpdateLLM(ctx, userID, id, LLMUpdate{Private: &private})
}

func (s *participantService) CloneLLM(ctx context.Context, userID, id uuid.UUID) (*types.Participant, error) {
	dbc := dbctx.Context{Ctx: ctx}
	src, err := s.participantRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if !CanUseLLM(src, userID) {
		return nil, fmt.Errorf("participant %s: %w", id, pkgerrors.ErrNotFound)
	}
	owner := userID
	meta := append(datatypes.JSON(nil), src.Metadata...)
	rows, err := s.participantRepo.Create(dbc, []*types.Participant{{
		Name:        src.Name + " (clone)",
		Type:        types.ParticipantTypeLLM,
		UserID:      &owner,
		Description: src.Description,
		Private:     true,
		Metadata:    meta,
	}})
	if err != nil {
		return nil, fmt.Errorf("clone participant: %w", err)
	}
	return rows[0], nil
}

func (s *participantService) ListPersonas(ctx context.Context, userID uuid.UUID) ([]*types.Participant, error) {
	return s.participantRepo.ListPersonas(dbctx.Context{Ctx: ctx}, userID)
}

func (s *participantService) GetCurrentPersona(ctx context.Context, userID uuid.UUID) (*types.Participant, error) {
	return s.participantRepo.GetDefaultPersona(dbctx.Context{Ctx: ctx}, userID)
}

func (s *participantService) CreatePersona(ctx context.Context, userID uuid.UUID, name, description string) (*types.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", pkgerrors.ErrInvalidArgument)
	}
	owner := userID
	rows, err := s.participantRepo.Create(dbctx.Context{Ctx: ctx}, []*types.Participant{{
		Name:        name,
		Type:        types.ParticipantTypeUser,
		UserID:      &owner,
		Description: strings.TrimSpace(description),
		Private:     true,
	}})
	if err != nil {
		return nil, fmt.Errorf("create persona: %w", err)
	}
	return rows[0], nil
}

func (s *participantService) ownedPersona(dbc dbctx.Context, userID, id uuid.UUID) (*types.Participant, error) {
	p, err := s.participantRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if p.Type != types.ParticipantTypeUser || !p.OwnedBy(userID) {
		return nil, fmt.Errorf("persona %s: %w", id, pkgerrors.ErrNotFound)
	}
	return p, nil
}

// SetDefaultPersona swaps the default inside one transaction so a user never has zero or two.
func (s *participantService) SetDefaultPersona(ctx context.Context, userID, id uuid.UUID) (*types.Participant, error) {
	var out *types.Participant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		p, err := s.ownedPersona(dbc, userID, id)
		if err != nil {
			return err
		}
		if err := s.participantRepo.ClearDefault(dbc, userID); err != nil {
			return err
		}
		if err := s.participantRepo.MarkDefault(dbc, userID, id); err != nil {
			return err
		}
		p.IsDefault = true
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *participantService) DeletePersona(ctx context.Context, userID, id uuid.UUID) error {
	// The delete is conditional on is_default so a concurrent SetDefaultPersona cannot leave
	// the user without a default.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		p, err := s.ownedPersona(dbc, userID, id)
		if err != nil {
			return err
		}
		if p.IsDefault {
			return fmt.Errorf("%w: the default persona cannot be deleted", pkgerrors.ErrConflict)
		}
		return s.participantRepo.DeleteUnlessDefault(dbc, id)
	})
	if err != nil {
		return err
	}
	s.broadcastRemoved(ctx, id)
	return nil
}

func (s *participantService) broadcastRemoved(ctx context.Context, id uuid.UUID) {
	convIDs, err := s.messageRepo.ListConversationIDsByParticipant(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		s.log.Warn("List participant conversations failed", "participant_id", id, "error", err)
		return
	}
	for _, convID := range convIDs {
		s.notify.ParticipantRemoved(ctx, convID, id)
	}
}
