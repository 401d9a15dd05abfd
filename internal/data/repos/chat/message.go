package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

// visibleAuthorClause keeps user-authored messages plus llm messages whose author is public
// or owned by the viewer. Args: private=false, viewer user id.
const visibleAuthorClause = "(p.type = 'user' OR (p.type = 'llm' AND (p.private = ? OR p.user_id = ?)))"

const messageViewColumns = "m.*, p.name AS participant_name, p.type AS participant_type, p.metadata AS participant_metadata"

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*types.Message) ([]*types.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error)
	GetView(dbc dbctx.Context, id uuid.UUID) (*types.MessageView, error)
	// ListViews returns every message of the conversation ordered by seq.
	ListViews(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.MessageView, error)
	// ListViewsAfterSeq returns messages with seq > afterSeq ordered by seq.
	ListViewsAfterSeq(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64) ([]*types.MessageView, error)
	// ListVisibleTo applies the fork visibility rule for userID.
	ListVisibleTo(dbc dbctx.Context, conversationID, userID uuid.UUID) ([]*types.Message, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.Message, error)
	CountByParticipant(dbc dbctx.Context, conversationID, participantID uuid.UUID) (int64, error)
	ListConversationIDsByParticipant(dbc dbctx.Context, participantID uuid.UUID) ([]uuid.UUID, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*types.Message) ([]*types.Message, error) {
	if len(rows) == 0 {
		return []*types.Message{}, nil
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

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id: %w", pkgerrors.ErrInvalidArgument)
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Message
	err := txx.WithContext(dbc.Ctx).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) viewQuery(dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Table("message AS m").
		Select(messageViewColumns).
		Joins("JOIN participant p ON p.id = m.participant_id").
		Where("m.deleted_at IS NULL")
}

func (r *messageRepo) GetView(dbc dbctx.Context, id uuid.UUID) (*types.MessageView, error) {
	var out []*types.MessageView
	if err := r.viewQuery(dbc).
		Where("m.id = ?", id).
		Limit(1).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, pkgerrors.ErrNotFound)
	}
	return out[0], nil
}

func (r *messageRepo) ListViews(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.MessageView, error) {
	return r.ListViewsAfterSeq(dbc, conversationID, 0)
}

func (r *messageRepo) ListViewsAfterSeq(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64) ([]*types.MessageView, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	out := []*types.MessageView{}
	if err := r.viewQuery(dbc).
		Where("m.conversation_id = ? AND m.seq > ?", conversationID, afterSeq).
		Order("m.seq ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListVisibleTo(dbc dbctx.Context, conversationID, userID uuid.UUID) ([]*types.Message, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.Message{}
	if err := txx.WithContext(dbc.Ctx).
		Table("message AS m").
		Select("m.*").
		Joins("JOIN participant p ON p.id = m.participant_id").
		Where("m.conversation_id = ? AND m.deleted_at IS NULL", conversationID).
		Where(visibleAuthorClause, false, userID).
		Order("m.seq ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.Message, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	out := []*types.Message{}
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) CountByParticipant(dbc dbctx.Context, conversationID, participantID uuid.UUID) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Where("conversation_id = ? AND participant_id = ?", conversationID, participantID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *messageRepo) ListConversationIDsByParticipant(dbc dbctx.Context, participantID uuid.UUID) ([]uuid.UUID, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var ids []uuid.UUID
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Distinct("conversation_id").
		Where("participant_id = ?", participantID).
		Pluck("conversation_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *messageRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&types.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", id, pkgerrors.ErrNotFound)
	}
	return nil
}
