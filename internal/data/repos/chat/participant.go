package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type ParticipantRepo interface {
	Create(dbc dbctx.Context, rows []*types.Participant) ([]*types.Participant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Participant, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Participant, error)
	// ListLLMVisibleTo returns public llm participants plus those owned by userID, by name.
	ListLLMVisibleTo(dbc dbctx.Context, userID uuid.UUID) ([]*types.Participant, error)
	// ListPersonas returns the user's personas, default first.
	ListPersonas(dbc dbctx.Context, userID uuid.UUID) ([]*types.Participant, error)
	GetDefaultPersona(dbc dbctx.Context, userID uuid.UUID) (*types.Participant, error)
	// ClearDefault unsets is_default on every persona of userID.
	ClearDefault(dbc dbctx.Context, userID uuid.UUID) error
	// MarkDefault sets is_default on a live persona of userID. ErrNotFound when none matched.
	MarkDefault(dbc dbctx.Context, userID, id uuid.UUID) error
	// ListConversationAuthors returns distinct authors of the conversation visible to userID.
	ListConversationAuthors(dbc dbctx.Context, conversationID, userID uuid.UUID) ([]*types.Participant, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	// DeleteUnlessDefault removes the persona only while it is not the default.
	DeleteUnlessDefault(dbc dbctx.Context, id uuid.UUID) error
}

type participantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParticipantRepo(db *gorm.DB, log *logger.Logger) ParticipantRepo {
	return &participantRepo{db: db, log: log.With("repo", "ParticipantRepo")}
}

func (r *participantRepo) Create(dbc dbctx.Context, rows []*types.Participant) ([]*types.Participant, error) {
	if len(rows) == 0 {
		return []*types.Participant{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *participantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Participant, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id: %w", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Participant
	err := txx.WithContext(dbc.Ctx).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("participant %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *participantRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Participant, error) {
	if len(ids) == 0 {
		return []*types.Participant{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.Participant
	if err := txx.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) ListLLMVisibleTo(dbc dbctx.Context, userID uuid.UUID) ([]*types.Participant, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.Participant{}
	if err := txx.WithContext(dbc.Ctx).
		Where("type = ? AND (private = ? OR user_id = ?)", types.ParticipantTypeLLM, false, userID).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) ListPersonas(dbc dbctx.Context, userID uuid.UUID) ([]*types.Participant, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.Participant{}
	if err := txx.WithContext(dbc.Ctx).
		Where("type = ? AND user_id = ?", types.ParticipantTypeUser, userID).
		Order("is_default DESC").
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) GetDefaultPersona(dbc dbctx.Context, userID uuid.UUID) (*types.Participant, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Participant
	err := txx.WithContext(dbc.Ctx).
		Where("type = ? AND user_id = ? AND is_default = ?", types.ParticipantTypeUser, userID, true).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("default persona for %s: %w", userID, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *participantRepo) ClearDefault(dbc dbctx.Context, userID uuid.UUID) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Participant{}).
		Where("type = ? AND user_id = ? AND is_default = ?", types.ParticipantTypeUser, userID, true).
		Updates(map[string]interface{}{"is_default": false, "updated_at": time.Now().UTC()}).Error
}

func (r *participantRepo) MarkDefault(dbc dbctx.Context, userID, id uuid.UUID) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Model(&types.Participant{}).
		Where("id = ? AND type = ? AND user_id = ?", id, types.ParticipantTypeUser, userID).
		Updates(map[string]interface{}{"is_default": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("persona %s: %w", id, pkgerrors.ErrNotFound)
	}
	return nil
}

func (r *participantRepo) ListConversationAuthors(dbc dbctx.Context, conversationID, userID uuid.UUID) ([]*types.Participant, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	authored := txx.Model(&types.Message{}).
		Select("participant_id").
		Where("conversation_id = ?", conversationID)
	out := []*types.Participant{}
	if err := txx.WithContext(dbc.Ctx).
		Table("participant AS p").
		Select("p.*").
		Where("p.id IN (?)", authored).
		Where(visibleAuthorClause, false, userID).
		Order("p.name ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Participant{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *participantRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&types.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("participant %s: %w", id, pkgerrors.ErrNotFound)
	}
	return nil
}

func (r *participantRepo) DeleteUnlessDefault(dbc dbctx.Context, id uuid.UUID) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Where("id = ? AND is_default = ?", id, false).
		Delete(&types.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("persona %s is the default or gone: %w", id, pkgerrors.ErrConflict)
	}
	return nil
}
