package models

import "time"

// Conversation is an external collaborator: the sync layer receives its id
// as a parameter and never creates, mutates or destroys it.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ClientName   string    `json:"clientName,omitempty"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}
