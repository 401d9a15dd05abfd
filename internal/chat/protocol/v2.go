package protocol

import (
	types "github.com/yungbote/nort-backend/internal/domain"
)

const routingPrefix = "<TO "

const routedClosing = "Reply only as yourself. Begin your reply with <TO id=PARTICIPANT_ID> naming the participant you address, then write your message. Never write role tokens, headers or lines for other participants."

type routed struct {
	opts Options
}

func (r *routed) Version() Version { return V2 }

func (r *routed) Assemble(in Input) ([]Fragment, error) {
	return assemble(in, func(m *types.MessageView) string {
		meta := m.Meta()
		if m.ParticipantType == types.ParticipantTypeLLM && meta.TargetParticipantID != nil {
			return "<TO id=" + meta.TargetParticipantID.String() + ">" + m.Content
		}
		return m.Content
	}, routedClosing)
}

func (r *routed) StopSequences() []string {
	return append([]string(nil), r.opts.ProviderStops...)
}

func (r *routed) Validate(raw string) (Reply, error) {
	target, body, err := parseRouting(raw)
	if err != nil {
		return Reply{}, err
	}
	text, err := checkLength(truncate(body, append(validatorMarkers(), routingPrefix)), r.opts.MinChars)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: text, TargetParticipantID: &target}, nil
}
