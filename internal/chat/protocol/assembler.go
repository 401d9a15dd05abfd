package protocol

import (
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/nort-backend/internal/domain"
)

// assemble is shared by every strategy. render decorates message bodies and closing is the
// final system instruction.
func assemble(in Input, render func(*types.MessageView) string, closing string) ([]Fragment, error) {
	if len(in.Messages) == 0 {
		return nil, ErrNoConversationContext
	}
	if in.ResponderID == uuid.Nil {
		return nil, ErrNoResponderDesignated
	}

	frags := make([]Fragment, 0, len(in.Messages)+3)
	if sp := strings.TrimSpace(in.SystemPrompt); sp != "" {
		frags = append(frags, Fragment{Kind: FragmentSystem, Text: TagSystem + in.SystemPrompt})
	}
	for _, m := range in.Messages {
		if m == nil || m.IsContinuation() {
			continue
		}
		frags = append(frags, Fragment{
			Kind:      FragmentMessage,
			MessageID: m.ID,
			Text:      header(m.ParticipantID, m.ParticipantName) + roleTag(m.ParticipantType) + render(m),
		})
	}
	frags = append(frags, Fragment{Kind: FragmentClosing, Text: TagSystem + closing})

	last := in.Messages[len(in.Messages)-1]
	if last == nil || strings.TrimSpace(last.Content) == "" {
		frags = append(frags, Fragment{Kind: FragmentCue, Text: TagAssistant})
	} else {
		frags = append(frags, Fragment{Kind: FragmentResponder, Text: header(in.ResponderID, in.ResponderName) + TagAssistant})
	}
	return frags, nil
}
