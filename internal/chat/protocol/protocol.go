// Package protocol maps stored conversation messages to provider prompts and maps provider
// output back to replies. Each prompt format revision is a Strategy.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/nort-backend/internal/domain"
)

const (
	TagAssistant   = "<｜Assistant｜>"
	TagUser        = "<｜User｜>"
	TagSystem      = "<｜System｜>"
	TagStartHeader = "<｜start_header_id｜>"
	TagEndHeader   = "<｜end_header_id｜>"
	TagToolCallEnd = "</tool_call>"
)

const DefaultMinChars = 2

var (
	ErrNoConversationContext = errors.New("no conversation context")
	ErrNoResponderDesignated = errors.New("no responder designated")
	ErrResponseTooShort      = errors.New("response too short")
	ErrMissingRoutingTarget  = errors.New("missing routing target")
	ErrUnknownVersion        = errors.New("unknown protocol version")
)

type Version string

const (
	V1 Version = "v1" // positional role tags
	V2 Version = "v2" // explicit <TO id=...> routing
)

type FragmentKind int

const (
	FragmentSystem FragmentKind = iota
	FragmentMessage
	FragmentClosing
	FragmentCue
	FragmentResponder
)

type Fragment struct {
	Kind FragmentKind
	// MessageID is set for FragmentMessage.
	MessageID uuid.UUID
	Text      string
}

// Input is everything needed to prompt the next responder. Messages are ordered by creation.
type Input struct {
	Messages      []*types.MessageView
	SystemPrompt  string
	ResponderID   uuid.UUID
	ResponderName string
}

type Reply struct {
	Content             string
	TargetParticipantID *uuid.UUID
}

type Strategy interface {
	Version() Version
	Assemble(in Input) ([]Fragment, error)
	// StopSequences is the stop list sent to the completion provider.
	StopSequences() []string
	Validate(raw string) (Reply, error)
}

type Options struct {
	MinChars int
	// ProviderStops overrides the default provider stop list when non-empty.
	ProviderStops []string
}

// New returns the strategy for version. An empty version selects V1.
func New(version string, opts Options) (Strategy, error) {
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	if len(opts.ProviderStops) == 0 {
		opts.ProviderStops = defaultProviderStops()
	}
	switch Version(strings.ToLower(strings.TrimSpace(version))) {
	case "", V1:
		return &positional{opts: opts}, nil
	case V2:
		return &routed{opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
}

// Render joins fragments into the prompt text sent to the provider.
func Render(frags []Fragment) string {
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, "\n")
}

func defaultProviderStops() []string {
	return []string{TagUser, TagAssistant, TagSystem, TagToolCallEnd, TagEndHeader, TagStartHeader, "\n"}
}

func header(participantID uuid.UUID, name string) string {
	if name == "" {
		name = "unknown"
	}
	return TagStartHeader + "id:" + participantID.String() + "|name:" + name + TagEndHeader
}

func roleTag(participantType string) string {
	if participantType == types.ParticipantTypeLLM {
		return TagAssistant
	}
	return TagUser
}
