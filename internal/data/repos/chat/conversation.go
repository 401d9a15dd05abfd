package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	// ListForUser returns conversations the user owns or holds a grant for, newest first.
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Conversation, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	// NextSeq reserves the next message position for the conversation. Requires dbc.Tx.
	NextSeq(dbc dbctx.Context, id uuid.UUID) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error) {
	if len(rows) == 0 {
		return []*types.Conversation{}, nil
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

func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id: %w", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Conversation
	err := txx.WithContext(dbc.Ctx).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	granted := txx.Model(&types.ConversationGrant{}).
		Select("conversation_id").
		Where("user_id = ?", userID)
	var out []*types.Conversation
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("created_by_user_id = ? OR id IN (?)", userID, granted).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID required dbc.Tx")
	}
	var out types.Conversation
	err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) NextSeq(dbc dbctx.Context, id uuid.UUID) (int64, error) {
	conv, err := r.LockByID(dbc, id)
	if err != nil {
		return 0, err
	}
	next := conv.NextSeq + 1
	if err := r.UpdateFields(dbc, id, map[string]interface{}{"next_seq": next}); err != nil {
		return 0, err
	}
	return next, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}
