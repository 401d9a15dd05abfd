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

type ConversationAccessRepo interface {
	Create(dbc dbctx.Context, rows []*types.ConversationAccess) ([]*types.ConversationAccess, error)
	GetByToken(dbc dbctx.Context, token string) (*types.ConversationAccess, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.ConversationAccess, error)
}

type conversationAccessRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationAccessRepo(db *gorm.DB, log *logger.Logger) ConversationAccessRepo {
	return &conversationAccessRepo{db: db, log: log.With("repo", "ConversationAccessRepo")}
}

func (r *conversationAccessRepo) Create(dbc dbctx.Context, rows []*types.ConversationAccess) ([]*types.ConversationAccess, error) {
	if len(rows) == 0 {
		return []*types.ConversationAccess{}, nil
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

func (r *conversationAccessRepo) GetByToken(dbc dbctx.Context, token string) (*types.ConversationAccess, error) {
	if token == "" {
		return nil, fmt.Errorf("missing share token: %w", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.ConversationAccess
	err := txx.WithContext(dbc.Ctx).Where("share_token = ?", token).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("share token: %w", pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationAccessRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.ConversationAccess, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.ConversationAccess{}
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type ConversationGrantRepo interface {
	// Get returns the user's grant for the conversation, or nil when none exists.
	Get(dbc dbctx.Context, conversationID, userID uuid.UUID) (*types.ConversationGrant, error)
	// Upsert records accessType for the pair, keeping the stronger of old and new.
	Upsert(dbc dbctx.Context, conversationID, userID uuid.UUID, accessType string) (*types.ConversationGrant, error)
}

type conversationGrantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationGrantRepo(db *gorm.DB, log *logger.Logger) ConversationGrantRepo {
	return &conversationGrantRepo{db: db, log: log.With("repo", "ConversationGrantRepo")}
}

func (r *conversationGrantRepo) Get(dbc dbctx.Context, conversationID, userID uuid.UUID) (*types.ConversationGrant, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ConversationGrant
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *conversationGrantRepo) Upsert(dbc dbctx.Context, conversationID, userID uuid.UUID, accessType string) (*types.ConversationGrant, error) {
	if types.AccessRank(accessType) == 0 {
		return nil, fmt.Errorf("access type %q: %w", accessType, pkgerrors.ErrInvalidArgument)
	}
	existing, err := r.Get(dbc, conversationID, userID)
	if err != nil {
		return nil, err
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if existing == nil {
		row := &types.ConversationGrant{
			ConversationID: conversationID,
			UserID:         userID,
			AccessType:     accessType,
		}
		if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
			return nil, err
		}
		return row, nil
	}
	if types.AccessRank(accessType) <= types.AccessRank(existing.AccessType) {
		return existing, nil
	}
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ConversationGrant{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"access_type": accessType, "updated_at": time.Now().UTC()}).Error; err != nil {
		return nil, err
	}
	existing.AccessType = accessType
	return existing, nil
}
