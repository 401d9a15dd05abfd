package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/yungbote/nort-backend/internal/data/repos/testutil"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
)

func TestUserRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	repo := NewUserRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	created, err := repo.Create(dbc, []*types.User{
		{Username: "userrepo-" + uuid.NewString()[:8], PasswordHash: "pw"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Create: expected 1 user, got %d", len(created))
	}
	if created[0].ID == uuid.Nil {
		t.Fatalf("Create: expected id to be assigned")
	}

	gotByIDs, err := repo.GetByIDs(dbc, []uuid.UUID{created[0].ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(gotByIDs) != 1 || gotByIDs[0].ID != created[0].ID {
		t.Fatalf("GetByIDs: unexpected result: %+v", gotByIDs)
	}

	gotByNames, err := repo.GetByUsernames(dbc, []string{created[0].Username})
	if err != nil {
		t.Fatalf("GetByUsernames: %v", err)
	}
	if len(gotByNames) != 1 || gotByNames[0].Username != created[0].Username {
		t.Fatalf("GetByUsernames: unexpected result: %+v", gotByNames)
	}

	exists, err := repo.UsernameExists(dbc, created[0].Username)
	if err != nil {
		t.Fatalf("UsernameExists: %v", err)
	}
	if !exists {
		t.Fatalf("UsernameExists: expected true")
	}

	exists, err = repo.UsernameExists(dbc, "does-not-exist-"+uuid.NewString())
	if err != nil {
		t.Fatalf("UsernameExists (missing): %v", err)
	}
	if exists {
		t.Fatalf("UsernameExists (missing): expected false")
	}
}
