package jobs

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

type GenerationJobRepo interface {
	Create(dbc dbctx.Context, jobs []*types.GenerationJob) ([]*types.GenerationJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.GenerationJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only while the row is not in one of the given
	// statuses. It reports whether a row changed.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	// FailAbandoned marks every queued or running row as failed. Used at startup: jobs live in
	// process memory, so rows left open by a previous process can never finish.
	FailAbandoned(dbc dbctx.Context, reason string) (int64, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

func (r *generationJobRepo) Create(dbc dbctx.Context, jobs []*types.GenerationJob) ([]*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.GenerationJob{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *generationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.GenerationJob
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("generation job %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationJobRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.GenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.GenerationJob
	if err := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.GenerationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.GenerationJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) FailAbandoned(dbc dbctx.Context, reason string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.GenerationJob{}).
		Where("status IN ?", []string{types.JobStatusQueued, types.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":      types.JobStatusFailed,
			"error":       reason,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
