package protocol

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	types "github.com/yungbote/nort-backend/internal/domain"
)

func view(pid uuid.UUID, name, ptype, content string, meta types.MessageMeta) *types.MessageView {
	return &types.MessageView{
		Message: types.Message{
			ID:            uuid.New(),
			ParticipantID: pid,
			Content:       content,
			Metadata:      meta.JSON(),
		},
		ParticipantName: name,
		ParticipantType: ptype,
	}
}

func TestAssembleRequiresContextAndResponder(t *testing.T) {
	s, err := New("v1", Options{})
	require.NoError(t, err)

	_, err = s.Assemble(Input{ResponderID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoConversationContext)

	msgs := []*types.MessageView{view(uuid.New(), "a", types.ParticipantTypeUser, "hi", types.MessageMeta{})}
	_, err = s.Assemble(Input{Messages: msgs})
	assert.ErrorIs(t, err, ErrNoResponderDesignated)
}

func TestAssembleLayout(t *testing.T) {
	s, err := New("", Options{})
	require.NoError(t, err)
	assert.Equal(t, V1, s.Version())

	user := uuid.New()
	bot := uuid.New()
	msgs := []*types.MessageView{
		view(user, "Alice", types.ParticipantTypeUser, "hello", types.MessageMeta{}),
		view(bot, "Bot", types.ParticipantTypeLLM, "hi Alice", types.MessageMeta{}),
	}
	frags, err := s.Assemble(Input{Messages: msgs, SystemPrompt: "be kind", ResponderID: bot, ResponderName: "Bot"})
	require.NoError(t, err)
	require.Len(t, frags, 5)

	assert.Equal(t, FragmentSystem, frags[0].Kind)
	assert.Equal(t, TagSystem+"be kind", frags[0].Text)
	assert.Equal(t, TagStartHeader+"id:"+user.String()+"|name:Alice"+TagEndHeader+TagUser+"hello", frags[1].Text)
	assert.Equal(t, TagStartHeader+"id:"+bot.String()+"|name:Bot"+TagEndHeader+TagAssistant+"hi Alice", frags[2].Text)
	assert.Equal(t, FragmentClosing, frags[3].Kind)
	assert.Equal(t, FragmentResponder, frags[4].Kind)
	assert.Equal(t, TagStartHeader+"id:"+bot.String()+"|name:Bot"+TagEndHeader+TagAssistant, frags[4].Text)

	prompt := Render(frags)
	assert.Equal(t, 4, strings.Count(prompt, "\n"))
}

func TestAssembleContinuationCue(t *testing.T) {
	s, err := New("v1", Options{})
	require.NoError(t, err)

	bot := uuid.New()
	msgs := []*types.MessageView{
		view(uuid.New(), "Alice", types.ParticipantTypeUser, "tell me more", types.MessageMeta{}),
		view(bot, "Bot", types.ParticipantTypeLLM, "Once upon", types.MessageMeta{}),
		view(bot, "Bot", types.ParticipantTypeLLM, "", types.MessageMeta{Continuation: true}),
	}
	frags, err := s.Assemble(Input{Messages: msgs, ResponderID: bot, ResponderName: "Bot"})
	require.NoError(t, err)

	last := frags[len(frags)-1]
	assert.Equal(t, FragmentCue, last.Kind)
	assert.Equal(t, TagAssistant, last.Text)
	for _, f := range frags {
		assert.NotEqual(t, FragmentResponder, f.Kind)
	}
}

func TestRoutedAssembleRendersTargets(t *testing.T) {
	s, err := New("v2", Options{})
	require.NoError(t, err)

	target := uuid.New()
	bot := uuid.New()
	msgs := []*types.MessageView{
		view(uuid.New(), "Alice", types.ParticipantTypeUser, "hey", types.MessageMeta{}),
		view(bot, "Bot", types.ParticipantTypeLLM, "hello", types.MessageMeta{TargetParticipantID: &target}),
	}
	frags, err := s.Assemble(Input{Messages: msgs, ResponderID: target, ResponderName: "Other"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(frags[1].Text, TagAssistant+"<TO id="+target.String()+">hello"))
	assert.Contains(t, frags[2].Text, "<TO id=PARTICIPANT_ID>")
}

func TestValidateTruncatesAtEarliestMarker(t *testing.T) {
	s, err := New("v1", Options{})
	require.NoError(t, err)

	reply, err := s.Validate("  Sure thing" + TagEndHeader + "x" + TagUser + "more")
	require.NoError(t, err)
	assert.Equal(t, "Sure thing", reply.Content)
	assert.Nil(t, reply.TargetParticipantID)

	_, err = s.Validate(TagAssistant + "leak")
	assert.ErrorIs(t, err, ErrResponseTooShort)

	_, err = s.Validate(" a ")
	assert.ErrorIs(t, err, ErrResponseTooShort)
}

func TestRoutedValidate(t *testing.T) {
	s, err := New("v2", Options{})
	require.NoError(t, err)

	target := uuid.New()
	reply, err := s.Validate("<TO id=" + target.String() + "> hi there <TO id=" + uuid.NewString() + "> again")
	require.NoError(t, err)
	require.NotNil(t, reply.TargetParticipantID)
	assert.Equal(t, target, *reply.TargetParticipantID)
	assert.Equal(t, "hi there", reply.Content)

	_, err = s.Validate("hi there")
	assert.ErrorIs(t, err, ErrMissingRoutingTarget)

	_, err = s.Validate("<TO id=not-a-uuid> hi")
	assert.ErrorIs(t, err, ErrMissingRoutingTarget)

	_, err = s.Validate("<TO id=" + target.String() + ">x")
	assert.ErrorIs(t, err, ErrResponseTooShort)
}

func TestNewRejectsUnknownVersion(t *testing.T) {
	_, err := New("v9", Options{})
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestProperty_AssemblerSkipsContinuations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		msgs := make([]*types.MessageView, 0, n)
		var keep, skip []string
		for i := 0; i < n; i++ {
			cont := rapid.Bool().Draw(rt, fmt.Sprintf("cont_%d", i))
			empty := rapid.Bool().Draw(rt, fmt.Sprintf("empty_%d", i))
			ptype := rapid.SampledFrom([]string{types.ParticipantTypeUser, types.ParticipantTypeLLM}).Draw(rt, fmt.Sprintf("type_%d", i))
			content := ""
			if !empty {
				content = fmt.Sprintf("body-%d-%s", i, uuid.NewString())
				if cont {
					skip = append(skip, content)
				} else {
					keep = append(keep, content)
				}
			}
			msgs = append(msgs, view(uuid.New(), "p", ptype, content, types.MessageMeta{Continuation: cont}))
		}

		s, err := New("v1", Options{})
		require.NoError(rt, err)
		frags, err := s.Assemble(Input{Messages: msgs, ResponderID: uuid.New(), ResponderName: "r"})
		require.NoError(rt, err)
		prompt := Render(frags)

		for _, c := range keep {
			assert.Contains(rt, prompt, c)
		}
		for _, c := range skip {
			assert.NotContains(rt, prompt, c)
		}

		lastEmpty := strings.TrimSpace(msgs[len(msgs)-1].Content) == ""
		tail := frags[len(frags)-1]
		if lastEmpty {
			assert.Equal(rt, FragmentCue, tail.Kind)
		} else {
			assert.Equal(rt, FragmentResponder, tail.Kind)
		}
	})
}

func TestProperty_ValidatorTruncatesAtEarliestMarker(t *testing.T) {
	markers := validatorMarkers()
	rapid.Check(t, func(rt *rapid.T) {
		chunks := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,8}`), 1, 6).Draw(rt, "chunks")
		var b strings.Builder
		for i, c := range chunks {
			b.WriteString(c)
			if i < len(chunks)-1 && rapid.Bool().Draw(rt, fmt.Sprintf("marker_%d", i)) {
				b.WriteString(rapid.SampledFrom(markers).Draw(rt, fmt.Sprintf("which_%d", i)))
			}
		}
		raw := b.String()

		cut := len(raw)
		for _, m := range markers {
			if i := strings.Index(raw, m); i >= 0 && i < cut {
				cut = i
			}
		}
		want := strings.TrimSpace(raw[:cut])

		s, err := New("v1", Options{MinChars: 3})
		require.NoError(rt, err)
		reply, err := s.Validate(raw)
		if len([]rune(want)) < 3 {
			assert.ErrorIs(rt, err, ErrResponseTooShort)
			return
		}
		require.NoError(rt, err)
		assert.Equal(rt, want, reply.Content)
		for _, m := range markers {
			assert.NotContains(rt, reply.Content, m)
		}
	})
}
