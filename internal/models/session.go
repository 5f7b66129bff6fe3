package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the ephemeral, in-memory record of one live connection. DocID,
// Username and Role are set when the connection joins its room; the role here
// is the one resolved at join time, while the registry's cache stays the
// authoritative source for authorization (it also sees later role changes).
// Destroyed on disconnect, never persisted.
type Session struct {
	ID           string    `json:"id"`
	DocID        string    `json:"doc_id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewSession returns an unjoined session. The UUID doubles as the connection
// id clients use to ignore their own cursor echoes.
func NewSession() *Session {
	return &Session{
		ID:           uuid.NewString(),
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}
