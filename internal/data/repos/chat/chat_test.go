package chat

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

func TestConversationRepoNextSeq(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	u := testutil.SeedUser(t, ctx, tx, "conv-"+uuid.NewString()[:8])
	repo := NewConversationRepo(db, log)

	created, err := repo.Create(dbc, []*types.Conversation{{Title: "t", CreatedByUserID: u.ID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	conv := created[0]
	if conv.Visibility != types.VisibilityPrivate {
		t.Fatalf("Create: visibility want=%s got=%s", types.VisibilityPrivate, conv.Visibility)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := repo.NextSeq(dbc, conv.ID)
		if err != nil {
			t.Fatalf("NextSeq: %v", err)
		}
		if got != want {
			t.Fatalf("NextSeq: want=%d got=%d", want, got)
		}
	}

	if _, err := repo.NextSeq(dbctx.Context{Ctx: ctx}, conv.ID); err == nil {
		t.Fatalf("NextSeq without tx: expected error")
	}
	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetByID (missing): want ErrNotFound got %v", err)
	}
}

func TestConversationRepoListForUser(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	owner := testutil.SeedUser(t, ctx, tx, "owner-"+uuid.NewString()[:8])
	guest := testutil.SeedUser(t, ctx, tx, "guest-"+uuid.NewString()[:8])
	own := testutil.SeedConversation(t, ctx, tx, guest.ID, types.VisibilityPrivate)
	shared := testutil.SeedConversation(t, ctx, tx, owner.ID, types.VisibilityShared)
	_ = testutil.SeedConversation(t, ctx, tx, owner.ID, types.VisibilityShared)

	grants := NewConversationGrantRepo(db, log)
	if _, err := grants.Upsert(dbc, shared.ID, guest.ID, types.AccessRead); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rows, err := NewConversationRepo(db, log).ListForUser(dbc, guest.ID, 10)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	got := map[uuid.UUID]bool{}
	for _, c := range rows {
		got[c.ID] = true
	}
	if len(rows) != 2 || !got[own.ID] || !got[shared.ID] {
		t.Fatalf("ListForUser: unexpected rows %+v", rows)
	}
}

func TestMessageRepoViewsAndVisibility(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	alice := testutil.SeedUser(t, ctx, tx, "alice-"+uuid.NewString()[:8])
	bob := testutil.SeedUser(t, ctx, tx, "bob-"+uuid.NewString()[:8])
	persona := testutil.SeedPersona(t, ctx, tx, alice.ID, "Alice", true)
	public := testutil.SeedLLM(t, ctx, tx, nil, "Public", false, types.LLMConfig{})
	bobsPrivate := testutil.SeedLLM(t, ctx, tx, testutil.PtrUUID(bob.ID), "BobBot", true, types.LLMConfig{})
	alicesPrivate := testutil.SeedLLM(t, ctx, tx, testutil.PtrUUID(alice.ID), "AliceBot", true, types.LLMConfig{})

	conv := testutil.SeedConversation(t, ctx, tx, bob.ID, types.VisibilityShared)
	m1 := testutil.SeedMessage(t, ctx, tx, conv.ID, persona.ID, nil, "hi")
	m2 := testutil.SeedMessage(t, ctx, tx, conv.ID, public.ID, &m1.ID, "hello")
	m3 := testutil.SeedMessage(t, ctx, tx, conv.ID, bobsPrivate.ID, &m2.ID, "secret")
	m4 := testutil.SeedMessage(t, ctx, tx, conv.ID, alicesPrivate.ID, &m3.ID, "mine")

	repo := NewMessageRepo(db, log)

	views, err := repo.ListViews(dbc, conv.ID)
	if err != nil {
		t.Fatalf("ListViews: %v", err)
	}
	if len(views) != 4 {
		t.Fatalf("ListViews: want=4 got=%d", len(views))
	}
	if views[1].ID != m2.ID || views[1].ParticipantName != "Public" || views[1].ParticipantType != types.ParticipantTypeLLM {
		t.Fatalf("ListViews: unexpected denormalized row %+v", views[1])
	}

	after, err := repo.ListViewsAfterSeq(dbc, conv.ID, m2.Seq)
	if err != nil {
		t.Fatalf("ListViewsAfterSeq: %v", err)
	}
	if len(after) != 2 || after[0].ID != m3.ID || after[1].ID != m4.ID {
		t.Fatalf("ListViewsAfterSeq: unexpected rows %+v", after)
	}

	visible, err := repo.ListVisibleTo(dbc, conv.ID, alice.ID)
	if err != nil {
		t.Fatalf("ListVisibleTo: %v", err)
	}
	ids := map[uuid.UUID]bool{}
	for _, m := range visible {
		ids[m.ID] = true
	}
	if len(visible) != 3 || !ids[m1.ID] || !ids[m2.ID] || !ids[m4.ID] || ids[m3.ID] {
		t.Fatalf("ListVisibleTo: unexpected rows %+v", visible)
	}

	authors, err := NewParticipantRepo(db, log).ListConversationAuthors(dbc, conv.ID, alice.ID)
	if err != nil {
		t.Fatalf("ListConversationAuthors: %v", err)
	}
	if len(authors) != 3 {
		t.Fatalf("ListConversationAuthors: want=3 got=%d", len(authors))
	}
	for _, p := range authors {
		if p.ID == bobsPrivate.ID {
			t.Fatalf("ListConversationAuthors: private llm of another user leaked")
		}
	}

	if err := repo.Delete(dbc, m4.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(dbc, m4.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetByID after Delete: want ErrNotFound got %v", err)
	}
	if err := repo.Delete(dbc, m4.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Delete twice: want ErrNotFound got %v", err)
	}
}

func TestParticipantRepoPersonas(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	u := testutil.SeedUser(t, ctx, tx, "personas-"+uuid.NewString()[:8])
	def := testutil.SeedPersona(t, ctx, tx, u.ID, "Zed", true)
	other := testutil.SeedPersona(t, ctx, tx, u.ID, "Amy", false)

	repo := NewParticipantRepo(db, log)
	rows, err := repo.ListPersonas(dbc, u.ID)
	if err != nil {
		t.Fatalf("ListPersonas: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != def.ID || rows[1].ID != other.ID {
		t.Fatalf("ListPersonas: default must come first, got %+v", rows)
	}

	if err := repo.ClearDefault(dbc, u.ID); err != nil {
		t.Fatalf("ClearDefault: %v", err)
	}
	if _, err := repo.GetDefaultPersona(dbc, u.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetDefaultPersona after clear: want ErrNotFound got %v", err)
	}
	if err := repo.UpdateFields(dbc, other.ID, map[string]interface{}{"is_default": true}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err := repo.GetDefaultPersona(dbc, u.ID)
	if err != nil {
		t.Fatalf("GetDefaultPersona: %v", err)
	}
	if got.ID != other.ID {
		t.Fatalf("GetDefaultPersona: want=%s got=%s", other.ID, got.ID)
	}
}

func TestParticipantRepoDefaultGuards(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	u := testutil.SeedUser(t, ctx, tx, "guards-"+uuid.NewString()[:8])
	def := testutil.SeedPersona(t, ctx, tx, u.ID, "Main", true)
	spare := testutil.SeedPersona(t, ctx, tx, u.ID, "Spare", false)
	repo := NewParticipantRepo(db, log)

	// a persona that became the default after it was read must survive the delete
	if err := repo.DeleteUnlessDefault(dbc, def.ID); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("DeleteUnlessDefault(default): want ErrConflict got %v", err)
	}
	if _, err := repo.GetByID(dbc, def.ID); err != nil {
		t.Fatalf("GetByID after refused delete: %v", err)
	}

	if err := repo.DeleteUnlessDefault(dbc, spare.ID); err != nil {
		t.Fatalf("DeleteUnlessDefault(spare): %v", err)
	}
	if err := repo.MarkDefault(dbc, u.ID, spare.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("MarkDefault(deleted): want ErrNotFound got %v", err)
	}
	if err := repo.MarkDefault(dbc, uuid.New(), def.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("MarkDefault(other user): want ErrNotFound got %v", err)
	}
	if err := repo.MarkDefault(dbc, u.ID, def.ID); err != nil {
		t.Fatalf("MarkDefault: %v", err)
	}
}

func TestAccessAndGrantRepos(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	log := testutil.Logger(t)

	u := testutil.SeedUser(t, ctx, tx, "grants-"+uuid.NewString()[:8])
	conv := testutil.SeedConversation(t, ctx, tx, u.ID, types.VisibilityShared)

	access := NewConversationAccessRepo(db, log)
	token := "tok-" + uuid.NewString()
	if _, err := access.Create(dbc, []*types.ConversationAccess{{ConversationID: conv.ID, ShareToken: token, AccessType: types.AccessWrite}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	row, err := access.GetByToken(dbc, token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if row.ConversationID != conv.ID || row.AccessType != types.AccessWrite {
		t.Fatalf("GetByToken: unexpected row %+v", row)
	}
	if _, err := access.GetByToken(dbc, "nope"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("GetByToken (missing): want ErrNotFound got %v", err)
	}

	grants := NewConversationGrantRepo(db, log)
	guest := uuid.New()
	if g, err := grants.Get(dbc, conv.ID, guest); err != nil || g != nil {
		t.Fatalf("Get (none): g=%v err=%v", g, err)
	}
	if _, err := grants.Upsert(dbc, conv.ID, guest, types.AccessWrite); err != nil {
		t.Fatalf("Upsert write: %v", err)
	}
	g, err := grants.Upsert(dbc, conv.ID, guest, types.AccessRead)
	if err != nil {
		t.Fatalf("Upsert read: %v", err)
	}
	if g.AccessType != types.AccessWrite {
		t.Fatalf("Upsert: weaker grant must not downgrade, got %s", g.AccessType)
	}
	if _, err := grants.Upsert(dbc, conv.ID, guest, "admin"); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("Upsert (bad type): want ErrInvalidArgument got %v", err)
	}
}
