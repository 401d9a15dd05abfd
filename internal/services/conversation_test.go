package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/yungbote/nort-backend/internal/data/repos/testutil"
	types "github.com/yungbote/nort-backend/internal/domain"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
)

func TestCreateMessageAssignsSequence(t *testing.T) {
	e := newEnv(t)
	user, persona := e.signup(t, "alice")
	conv, err := e.conversations.CreateConversation(e.ctx, user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConversationTitle, conv.Title)

	m1 := e.message(t, conv.ID, persona.ID, nil, "one")
	m2 := e.message(t, conv.ID, persona.ID, &m1.ID, "two")
	m3 := e.message(t, conv.ID, persona.ID, &m2.ID, "three")
	assert.Equal(t, []int64{1, 2, 3}, []int64{m1.Seq, m2.Seq, m3.Seq})
	assert.Equal(t, "alice", m3.ParticipantName)

	other, err := e.conversations.CreateConversation(e.ctx, user.ID, "other")
	require.NoError(t, err)
	_, err = e.conversations.CreateMessage(e.ctx, MessageInput{
		ConversationID: other.ID,
		ParticipantID:  persona.ID,
		Content:        "wrong parent",
		ParentID:       &m1.ID,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)

	missing := uuid.New()
	_, err = e.conversations.CreateMessage(e.ctx, MessageInput{
		ConversationID: conv.ID,
		ParticipantID:  persona.ID,
		Content:        "dangling",
		ParentID:       &missing,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)

	o1 := e.message(t, other.ID, persona.ID, nil, "first in other")
	assert.Equal(t, int64(1), o1.Seq)
}

func TestGetConversationMessagesAfter(t *testing.T) {
	e := newEnv(t)
	user, persona := e.signup(t, "alice")
	conv, err := e.conversations.CreateConversation(e.ctx, user.ID, "t")
	require.NoError(t, err)

	var all []*types.MessageView
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		all = append(all, e.message(t, conv.ID, persona.ID, nil, c))
	}

	for i, m := range all {
		after, err := e.conversations.GetConversationMessagesAfter(e.ctx, conv.ID, m.ID)
		require.NoError(t, err)
		require.Len(t, after, len(all)-i-1)
		for j, got := range after {
			assert.Equal(t, all[i+1+j].ID, got.ID)
		}
	}

	full, err := e.conversations.GetConversationMessagesAfter(e.ctx, conv.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, full, 5)
	full, err = e.conversations.GetConversationMessagesAfter(e.ctx, conv.ID, uuid.New())
	require.NoError(t, err)
	assert.Len(t, full, 5)
}

func TestDeleteMessagePermissions(t *testing.T) {
	e := newEnv(t)
	owner, ownerPersona := e.signup(t, "owner")
	guest, guestPersona := e.signup(t, "guest")
	conv, err := e.conversations.CreateConversation(e.ctx, owner.ID, "t")
	require.NoError(t, err)
	share, err := e.conversations.CreateShareLink(e.ctx, conv.ID, owner.ID, types.AccessWrite)
	require.NoError(t, err)
	_, err = e.conversations.GetConversationByShareToken(e.ctx, share.ShareToken, guest.ID)
	require.NoError(t, err)

	ownerMsg := e.message(t, conv.ID, ownerPersona.ID, nil, "mine")
	guestMsg := e.message(t, conv.ID, guestPersona.ID, &ownerMsg.ID, "theirs")

	// a write grant does not extend to deleting, not even the guest's own message
	assert.ErrorIs(t, e.conversations.DeleteMessage(e.ctx, ownerMsg.ID, guest.ID), pkgerrors.ErrForbidden)
	assert.ErrorIs(t, e.conversations.DeleteMessage(e.ctx, guestMsg.ID, guest.ID), pkgerrors.ErrForbidden)
	assert.NoError(t, e.conversations.DeleteMessage(e.ctx, guestMsg.ID, owner.ID))
	assert.NoError(t, e.conversations.DeleteMessage(e.ctx, ownerMsg.ID, owner.ID))

	msgs, err := e.conversations.GetConversationMessages(e.ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateMessageFlagsFirstFromParticipant(t *testing.T) {
	e := newEnv(t)
	owner, ownerPersona := e.signup(t, "owner")
	_, otherPersona := e.signup(t, "other")
	conv, err := e.conversations.CreateConversation(e.ctx, owner.ID, "t")
	require.NoError(t, err)

	first := e.message(t, conv.ID, ownerPersona.ID, nil, "one")
	second := e.message(t, conv.ID, ownerPersona.ID, &first.ID, "two")
	other := e.message(t, conv.ID, otherPersona.ID, &second.ID, "three")

	assert.True(t, first.FirstFromParticipant)
	assert.False(t, second.FirstFromParticipant)
	assert.True(t, other.FirstFromParticipant)
}

func TestShareLinkGrantsAccess(t *testing.T) {
	e := newEnv(t)
	owner, persona := e.signup(t, "owner")
	reader, _ := e.signup(t, "reader")
	writer, _ := e.signup(t, "writer")
	conv, err := e.conversations.CreateConversation(e.ctx, owner.ID, "t")
	require.NoError(t, err)
	e.message(t, conv.ID, persona.ID, nil, "hello")

	access, err := e.conversations.CanUserAccessConversation(e.ctx, conv.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, Access{}, access)

	_, err = e.conversations.CreateShareLink(e.ctx, conv.ID, reader.ID, types.AccessRead)
	assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
	_, err = e.conversations.CreateShareLink(e.ctx, conv.ID, owner.ID, "admin")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArgument)

	readLink, err := e.conversations.CreateShareLink(e.ctx, conv.ID, owner.ID, types.AccessRead)
	require.NoError(t, err)
	assert.Len(t, readLink.ShareToken, 64)
	writeLink, err := e.conversations.CreateShareLink(e.ctx, conv.ID, owner.ID, types.AccessWrite)
	require.NoError(t, err)

	shared, err := e.conversations.GetConversationByShareToken(e.ctx, readLink.ShareToken, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityShared, shared.Conversation.Visibility)
	assert.Len(t, shared.Messages, 1)
	assert.Equal(t, Access{CanRead: true}, shared.Access)

	shared, err = e.conversations.GetConversationByShareToken(e.ctx, writeLink.ShareToken, writer.ID)
	require.NoError(t, err)
	assert.Equal(t, Access{CanRead: true, CanWrite: true}, shared.Access)

	_, err = e.conversations.GetConversationByShareToken(e.ctx, "nope", reader.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestForkConversationCopiesVisibleMessages(t *testing.T) {
	e := newEnv(t)
	owner, _ := e.signup(t, "owner")
	guest, _ := e.signup(t, "guest")
	public := e.llm(t, nil, "public", false)
	secret := e.llm(t, testutil.PtrUUID(owner.ID), "secret", true)

	conv, err := e.conversations.CreateConversation(e.ctx, owner.ID, "origin")
	require.NoError(t, err)
	m1 := e.message(t, conv.ID, public.ID, nil, "one")
	m2 := e.message(t, conv.ID, secret.ID, &m1.ID, "two")
	m3 := e.message(t, conv.ID, public.ID, &m2.ID, "three")

	_, err = e.conversations.ForkConversation(e.ctx, conv.ID, guest.ID, "")
	assert.ErrorIs(t, err, pkgerrors.ErrForbidden)

	link, err := e.conversations.CreateShareLink(e.ctx, conv.ID, owner.ID, types.AccessRead)
	require.NoError(t, err)
	_, err = e.conversations.GetConversationByShareToken(e.ctx, link.ShareToken, guest.ID)
	require.NoError(t, err)

	fork, err := e.conversations.ForkConversation(e.ctx, conv.ID, guest.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Fork of origin", fork.Title)
	assert.Equal(t, types.VisibilityPrivate, fork.Visibility)
	assert.Equal(t, guest.ID, fork.CreatedByUserID)
	require.NotNil(t, fork.ForkedFromID)
	assert.Equal(t, conv.ID, *fork.ForkedFromID)

	copies, err := e.conversations.GetConversationMessages(e.ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, copies, 2)
	assert.Equal(t, m1.Content, copies[0].Content)
	assert.Equal(t, m3.Content, copies[1].Content)
	assert.Nil(t, copies[0].ParentID)
	require.NotNil(t, copies[1].ParentID)
	assert.Equal(t, copies[0].ID, *copies[1].ParentID)
	assert.Equal(t, []int64{1, 2}, []int64{copies[0].Seq, copies[1].Seq})

	// the fork keeps sequencing where the copies stopped
	next := e.message(t, fork.ID, public.ID, &copies[1].ID, "four")
	assert.Equal(t, int64(3), next.Seq)

	ownerFork, err := e.conversations.ForkConversation(e.ctx, conv.ID, owner.ID, "mine")
	require.NoError(t, err)
	ownerCopies, err := e.conversations.GetConversationMessages(e.ctx, ownerFork.ID)
	require.NoError(t, err)
	assert.Len(t, ownerCopies, 3)
}

func TestForkMessagesParentsAreCopiedAncestors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "n")
		all := make([]*types.Message, n)
		for i := range all {
			m := &types.Message{ID: uuid.New(), Seq: int64(i + 1)}
			if i > 0 && rapid.Bool().Draw(t, "has_parent") {
				p := all[rapid.IntRange(0, i-1).Draw(t, "parent")].ID
				m.ParentID = &p
			}
			all[i] = m
		}
		var visible []*types.Message
		for _, m := range all {
			if rapid.Bool().Draw(t, "visible") {
				visible = append(visible, m)
			}
		}

		forkID := uuid.New()
		out := forkMessages(forkID, all, visible)
		if len(out) != len(visible) {
			t.Fatalf("copies: want=%d got=%d", len(visible), len(out))
		}

		byID := make(map[uuid.UUID]*types.Message, n)
		for _, m := range all {
			byID[m.ID] = m
		}
		copyOf := make(map[uuid.UUID]uuid.UUID)
		for i, c := range out {
			copyOf[c.ID] = visible[i].ID
			if c.Seq != int64(i+1) || c.ConversationID != forkID {
				t.Fatalf("copy %d: seq=%d conversation=%s", i, c.Seq, c.ConversationID)
			}
			if c.ParentID == nil {
				continue
			}
			src, ok := copyOf[*c.ParentID]
			if !ok {
				t.Fatalf("copy %d parent is not an earlier copy", i)
			}
			// the parent's source must be an ancestor of this copy's source
			found := false
			for p := visible[i].ParentID; p != nil; p = byID[*p].ParentID {
				if *p == src {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("copy %d parent source %s is not an ancestor", i, src)
			}
		}
	})
}
