package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

type EventType string

const (
	EventConnected          EventType = "connected"
	EventMessageAdded       EventType = "message_added"
	EventTypingStarted      EventType = "typing_started"
	EventTypingStopped      EventType = "typing_stopped"
	EventError              EventType = "error"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventParticipantUpdated EventType = "participant_updated"
)

// Event is one broadcast on a conversation. Seq is set for message_added and lets a
// subscription skip messages it already received in its backlog.
type Event struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Type           EventType `json:"type"`
	Seq            int64     `json:"seq,omitempty"`
	Data           any       `json:"data,omitempty"`
}

// Frame is the wire body sent to viewers.
type Frame struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

func (e Event) Frame() Frame {
	return Frame{Type: e.Type, Data: e.Data}
}

func (e Event) MarshalFrame() ([]byte, error) {
	return json.Marshal(e.Frame())
}

type TypingPayload struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
