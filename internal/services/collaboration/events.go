package collaboration

import (
	"encoding/json"
	"log"

	"docsync/internal/delta"
	"docsync/internal/models"
)

// Wire event names. Inbound and outbound events form a closed set: dispatch is
// a single switch over these constants, so a new event type is a compile-time
// visible change rather than a stringly-typed handler registration.
const (
	// Inbound.
	EventJoinDocument   = "join-document"
	EventSendChanges    = "send-changes"
	EventTyping         = "typing"
	EventSaveDocument   = "save-document"
	EventChangeRole     = "change-role"
	EventCursorPosition = "cursor-position"
	EventAddComment     = "add-comment"

	// Outbound.
	EventLoadDocument   = "load-document"
	EventUpdateUsers    = "update-users"
	EventReceiveChanges = "receive-changes"
	EventUserTyping     = "user-typing"
	EventRoleUpdated    = "role-updated"
	EventCursorUpdate   = "cursor-update"
	EventNewComment     = "new-comment"
)

// Envelope frames every message on the duplex channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the join-document request. Role defaults to viewer when
// absent; DocID is accepted for wire compatibility but the room is fixed by
// the connection's URL path.
type JoinPayload struct {
	DocID    string      `json:"docId"`
	Username string      `json:"username"`
	Role     models.Role `json:"role,omitempty"`
}

// LoadDocumentPayload answers a join with the current content and the role the
// server resolved for the joiner.
type LoadDocumentPayload struct {
	Data delta.Delta `json:"data"`
	Role models.Role `json:"role"`
}

// ChangeRolePayload reassigns a collaborator's role.
type ChangeRolePayload struct {
	DocID          string      `json:"docId"`
	TargetUsername string      `json:"targetUsername"`
	NewRole        models.Role `json:"newRole"`
}

// RoleUpdatedPayload announces a role change to the room.
type RoleUpdatedPayload struct {
	Username string      `json:"username"`
	NewRole  models.Role `json:"newRole"`
}

// CursorPayload is an inbound cursor move.
type CursorPayload struct {
	DocID    string             `json:"docId"`
	Username string             `json:"username"`
	Range    models.CursorRange `json:"range"`
}

// CursorUpdatePayload fans a cursor move out to the rest of the room. The
// connection id lets a recipient drop its own echo.
type CursorUpdatePayload struct {
	Username     string             `json:"username"`
	Range        models.CursorRange `json:"range"`
	ConnectionID string             `json:"connectionId"`
}

// AddCommentPayload is an inbound comment.
type AddCommentPayload struct {
	DocID   string         `json:"docId"`
	Comment models.Comment `json:"comment"`
}

// encodeEvent frames an outbound event. Marshal failures can only come from
// our own types, so they are logged and swallowed rather than propagated.
func encodeEvent(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to encode %s payload: %v", event, err)
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		log.Printf("failed to encode %s envelope: %v", event, err)
		return nil
	}
	return frame
}
