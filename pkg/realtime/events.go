package realtime

import "ficsync/pkg/models"

// State is the connection state of the adapter. Transitions are
// Disconnected -> Connecting -> Connected and back to Connecting on an
// unexpected drop while reconnect attempts remain.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventType enumerates the internal event set, decoupled from the wire
// vocabulary of the underlying channel.
type EventType int

const (
	EventMessage EventType = iota
	EventTyping
	EventAgentError
	EventState
)

// Event is delivered on the adapter's event channel in arrival order.
type Event struct {
	Type    EventType
	Message models.Message // EventMessage
	Typing  bool           // EventTyping
	Reason  string         // EventAgentError
	State   State          // EventState
}

// envelope is the wire frame exchanged with the realtime gateway.
type envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	Error          string          `json:"error,omitempty"`
}

const (
	frameJoin       = "join"
	frameLeave      = "leave"
	frameJoined     = "joined"
	frameMessage    = "message"
	frameTyping     = "typing"
	frameAgentError = "agent_error"
)
