package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/ctxutil"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

// JobService exposes generation job records to the users who can read their conversation.
type JobService interface {
	GetByIDForRequestUser(ctx context.Context, jobID uuid.UUID) (*types.GenerationJob, error)
	ListForConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.GenerationJob, error)
	// FailAbandoned marks jobs left queued or running by a previous process as failed.
	FailAbandoned(ctx context.Context) (int64, error)
}

type jobService struct {
	log           *logger.Logger
	repo          repos.GenerationJobRepo
	conversations ConversationService
}

func NewJobService(baseLog *logger.Logger, repo repos.GenerationJobRepo, conversations ConversationService) JobService {
	return &jobService{
		log:           baseLog.With("service", "JobService"),
		repo:          repo,
		conversations: conversations,
	}
}

func (s *jobService) canRead(ctx context.Context, conversationID uuid.UUID) error {
	userID := ctxutil.UserID(ctx)
	if userID == uuid.Nil {
		return pkgerrors.ErrUnauthorized
	}
	access, err := s.conversations.CanUserAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !access.CanRead {
		return fmt.Errorf("conversation %s: %w", conversationID, pkgerrors.ErrNotFound)
	}
	return nil
}

func (s *jobService) GetByIDForRequestUser(ctx context.Context, jobID uuid.UUID) (*types.GenerationJob, error) {
	job, err := s.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, job.ConversationID); err != nil {
		// unreadable jobs look missing
		return nil, fmt.Errorf("generation job %s: %w", jobID, pkgerrors.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) ListForConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.GenerationJob, error) {
	if err := s.canRead(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByConversation(dbctx.Context{Ctx: ctx}, conversationID, limit)
}

func (s *jobService) FailAbandoned(ctx context.Context) (int64, error) {
	n, err := s.repo.FailAbandoned(dbctx.Context{Ctx: ctx}, "abandoned by a previous process")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("Abandoned generation jobs marked failed", "count", n)
	}
	return n, nil
}
