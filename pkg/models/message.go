package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks locally-created placeholder messages that have not yet
// been confirmed by the server.
const TempIDPrefix = "temp-"

// SenderType discriminates who authored a message.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAgent SenderType = "agent"
)

// Kind tags the message variant. Sentinel messages are transport-internal
// and are filtered out before the list is exposed to callers.
type Kind string

const (
	KindChat     Kind = "chat"
	KindFeedback Kind = "feedback"
	KindDocument Kind = "document"
	KindSentinel Kind = "sentinel"
)

// Status is the local-only delivery state of a message. It is never sent to
// or read from the server.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Sender identifies the author of a message.
type Sender struct {
	Type SenderType `json:"type"`
	Name string     `json:"name,omitempty"`
}

type Message struct {
	ID string `json:"id"`
	// ClientMessageID is the client-generated idempotency key. It survives
	// the round trip so a placeholder can be matched to its authoritative
	// counterpart even when IDs differ.
	ClientMessageID string     `json:"clientMessageId,omitempty"`
	Conversation    string     `json:"conversationId,omitempty"`
	Content         string     `json:"content"`
	Sender          Sender     `json:"sender"`
	Kind            Kind       `json:"kind,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	// Status is local-only; omitted from wire payloads by the server.
	Status Status `json:"status,omitempty"`
	// Metadata is an opaque payload (e.g. feedback completion percentage)
	// carried through untouched.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IsPlaceholder reports whether the message is a local optimistic entry
// awaiting server confirmation.
func (m Message) IsPlaceholder() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Confirmed reports whether the message carries an authoritative server id.
func (m Message) Confirmed() bool {
	return m.ID != "" && !m.IsPlaceholder()
}
