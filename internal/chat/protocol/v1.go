package protocol

import (
	types "github.com/yungbote/nort-backend/internal/domain"
)

const positionalClosing = "Reply only as yourself. Never write role tokens, headers or lines for other participants."

type positional struct {
	opts Options
}

func (p *positional) Version() Version { return V1 }

func (p *positional) Assemble(in Input) ([]Fragment, error) {
	return assemble(in, func(m *types.MessageView) string { return m.Content }, positionalClosing)
}

func (p *positional) StopSequences() []string {
	return append([]string(nil), p.opts.ProviderStops...)
}

func (p *positional) Validate(raw string) (Reply, error) {
	text, err := checkLength(truncate(raw, validatorMarkers()), p.opts.MinChars)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: text}, nil
}
