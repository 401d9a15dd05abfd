package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/yungbote/nort-backend/internal/data/repos/testutil"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
)

func TestGenerationJobRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewGenerationJobRepo(db, testutil.Logger(t))

	convID := uuid.New()
	queued := &types.GenerationJob{
		ConversationID:   convID,
		TriggerMessageID: uuid.New(),
		ParticipantID:    uuid.New(),
	}
	done := &types.GenerationJob{
		ConversationID:   convID,
		TriggerMessageID: uuid.New(),
		ParticipantID:    uuid.New(),
		Status:           types.JobStatusCompleted,
	}
	if _, err := repo.Create(dbc, []*types.GenerationJob{queued, done}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if queued.Status != types.JobStatusQueued {
		t.Fatalf("Create: default status want=%s got=%s", types.JobStatusQueued, queued.Status)
	}

	got, err := repo.GetByID(dbc, queued.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ConversationID != convID {
		t.Fatalf("GetByID: conversation want=%s got=%s", convID, got.ConversationID)
	}
	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetByID (missing): want ErrNotFound got %v", err)
	}

	rows, err := repo.ListByConversation(dbc, convID, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListByConversation: err=%v len=%d", err, len(rows))
	}

	terminal := []string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled}
	changed, err := repo.UpdateFieldsUnlessStatus(dbc, done.ID, terminal, map[string]interface{}{"status": types.JobStatusRunning})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if changed {
		t.Fatalf("UpdateFieldsUnlessStatus: terminal row must not change")
	}
	changed, err = repo.UpdateFieldsUnlessStatus(dbc, queued.ID, terminal, map[string]interface{}{"status": types.JobStatusRunning})
	if err != nil || !changed {
		t.Fatalf("UpdateFieldsUnlessStatus: err=%v changed=%v", err, changed)
	}

	n, err := repo.FailAbandoned(dbc, "process restarted")
	if err != nil {
		t.Fatalf("FailAbandoned: %v", err)
	}
	if n < 1 {
		t.Fatalf("FailAbandoned: want>=1 got=%d", n)
	}
	got, err = repo.GetByID(dbc, queued.ID)
	if err != nil {
		t.Fatalf("GetByID after FailAbandoned: %v", err)
	}
	if got.Status != types.JobStatusFailed || got.Error != "process restarted" {
		t.Fatalf("FailAbandoned: unexpected row %+v", got)
	}
}
