package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/segmentio/ksuid"

	"docsync/internal/delta"
	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/repository"
)

// Coordinator is the room-level protocol handler: it validates the sender's
// role, mutates the document store and the registry, and fans the right
// outbound events out to the right connections.
//
// Storage failures are logged and the triggering event's effect is dropped —
// no retry, no rollback of in-memory state. The next periodic save heals most
// of them.
type Coordinator struct {
	store    DocumentStore
	registry *Registry

	// One mutex per document serializes the read-compose-append cycle, so two
	// concurrent edits can never compose against the same stale content and
	// silently drop each other.
	locks sync.Map // docID -> *sync.Mutex
}

// NewCoordinator creates a coordinator over the given store and registry.
func NewCoordinator(store DocumentStore, registry *Registry) *Coordinator {
	return &Coordinator{store: store, registry: registry}
}

func (c *Coordinator) lockFor(docID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(docID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Dispatch routes one inbound frame. The event set is closed: every event name
// is matched here, and anything else is logged and dropped. Before a session
// has joined, all events except join-document are unrecognized.
func (c *Coordinator) Dispatch(ctx context.Context, s *Session, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("session %s: dropping unparseable frame: %v", s.ID, err)
		return
	}

	if !s.Joined() && env.Event != EventJoinDocument {
		return
	}

	switch env.Event {
	case EventJoinDocument:
		c.handleJoin(ctx, s, env.Data)
	case EventSendChanges:
		c.handleChanges(ctx, s, env.Data)
	case EventTyping:
		c.handleTyping(s)
	case EventSaveDocument:
		c.handleSave(ctx, s, env.Data)
	case EventChangeRole:
		c.handleChangeRole(ctx, s, env.Data)
	case EventCursorPosition:
		c.handleCursor(s, env.Data)
	case EventAddComment:
		c.handleComment(ctx, s, env.Data)
	default:
		log.Printf("session %s: unknown event %q", s.ID, env.Event)
	}
}

// handleJoin resolves the document (creating it on first join), resolves the
// collaborator role, registers presence, and answers with the current content.
// A valid requested role is trusted as-is and overwrites the stored one. A
// join without a role falls back to the cached role, then the persisted
// collaborator record, then viewer — so a role granted before the user ever
// connected survives their first join.
func (c *Coordinator) handleJoin(ctx context.Context, s *Session, data json.RawMessage) {
	if s.Joined() {
		return
	}

	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Username == "" {
		log.Printf("session %s: dropping malformed join: %v", s.ID, err)
		return
	}

	role := payload.Role
	if !role.Valid() {
		if cached, ok := c.registry.CachedRole(s.RoomID, payload.Username); ok {
			role = cached
		}
	}

	doc, err := c.store.GetOrCreate(ctx, s.RoomID)
	if err != nil {
		log.Printf("session %s: failed to resolve document %s: %v", s.ID, s.RoomID, err)
		middleware.AddSpanError(ctx, err)
		return
	}

	if !role.Valid() {
		for _, collab := range doc.Collaborators {
			if collab.Username == payload.Username {
				role = collab.Role
				break
			}
		}
	}
	if !role.Valid() {
		role = models.RoleViewer
	}
	if err := c.store.UpsertCollaborator(ctx, s.RoomID, payload.Username, role); err != nil {
		log.Printf("session %s: failed to store collaborator: %v", s.ID, err)
		middleware.AddSpanError(ctx, err)
		return
	}

	s.DocID = s.RoomID
	s.Username = payload.Username
	s.Role = role
	s.joined = true

	c.registry.CacheRole(s.DocID, s.Username, role)
	c.registry.Register(s)

	log.Printf("User %q joined document %q as %s", s.Username, s.DocID, role)

	c.sendToSelf(s, encodeEvent(EventLoadDocument, LoadDocumentPayload{
		Data: delta.BaseOrSeed(doc.Content),
		Role: role,
	}))

	users := c.registry.AddPresence(s.DocID, s.Username)
	c.registry.Broadcast(s.DocID, encodeEvent(EventUpdateUsers, users), nil)
}

// handleChanges applies an editor's edit: compose onto the persisted content,
// append a history entry, and fan the raw incoming ops out to the rest of the
// room (recipients apply them locally; they never see the composed result).
func (c *Coordinator) handleChanges(ctx context.Context, s *Session, data json.RawMessage) {
	if role, ok := c.registry.CachedRole(s.DocID, s.Username); !ok || role != models.RoleEditor {
		return
	}

	var change delta.Delta
	if err := json.Unmarshal(data, &change); err != nil {
		log.Printf("session %s: dropping undecodable edit: %v", s.ID, err)
		return
	}
	if err := change.Validate(); err != nil {
		log.Printf("session %s: dropping edit: %v", s.ID, err)
		return
	}

	mu := c.lockFor(s.DocID)
	mu.Lock()
	defer mu.Unlock()

	doc, err := c.store.GetByID(ctx, s.DocID)
	if err != nil {
		if !errors.Is(err, repository.ErrDocumentNotFound) {
			log.Printf("session %s: failed to read document for edit: %v", s.ID, err)
			middleware.AddSpanError(ctx, err)
		}
		return
	}

	composed := delta.BaseOrSeed(doc.Content).Compose(change)
	if err := c.store.AppendVersion(ctx, s.DocID, composed, s.Username); err != nil {
		log.Printf("session %s: failed to store version: %v", s.ID, err)
		middleware.AddSpanError(ctx, err)
		return
	}

	c.registry.Broadcast(s.DocID, encodeEvent(EventReceiveChanges, change), s)
}

// handleTyping is stateless: just tell everyone else who is typing.
func (c *Coordinator) handleTyping(s *Session) {
	c.registry.Broadcast(s.DocID, encodeEvent(EventUserTyping, s.Username), s)
}

// handleSave is the periodic full-content save: overwrite, no history entry,
// no broadcast. Payloads without well-formed operations are ignored.
func (c *Coordinator) handleSave(ctx context.Context, s *Session, data json.RawMessage) {
	var content delta.Delta
	if err := json.Unmarshal(data, &content); err != nil || content.Ops == nil {
		return
	}
	if err := content.Validate(); err != nil {
		return
	}

	mu := c.lockFor(s.DocID)
	mu.Lock()
	defer mu.Unlock()

	if err := c.store.UpdateContent(ctx, s.DocID, content); err != nil {
		if !errors.Is(err, repository.ErrDocumentNotFound) {
			log.Printf("session %s: failed to save document: %v", s.ID, err)
			middleware.AddSpanError(ctx, err)
		}
		return
	}
	log.Printf("Document %q saved", s.DocID)
}

// handleChangeRole reassigns a collaborator's role. The requester must itself
// be an editor. The target need not have joined yet: the upsert persists the
// role so it takes effect whenever they do, and the cache update applies it
// immediately to any of their live sessions.
func (c *Coordinator) handleChangeRole(ctx context.Context, s *Session, data json.RawMessage) {
	if role, ok := c.registry.CachedRole(s.DocID, s.Username); !ok || role != models.RoleEditor {
		return
	}

	var payload ChangeRolePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.TargetUsername == "" {
		return
	}
	if !payload.NewRole.Valid() {
		return
	}

	if err := c.store.UpsertCollaborator(ctx, s.DocID, payload.TargetUsername, payload.NewRole); err != nil {
		log.Printf("session %s: failed to change role: %v", s.ID, err)
		middleware.AddSpanError(ctx, err)
		return
	}
	c.registry.CacheRole(s.DocID, payload.TargetUsername, payload.NewRole)

	log.Printf("Role of %q changed to %q in document %q", payload.TargetUsername, payload.NewRole, s.DocID)

	c.registry.Broadcast(s.DocID, encodeEvent(EventRoleUpdated, RoleUpdatedPayload{
		Username: payload.TargetUsername,
		NewRole:  payload.NewRole,
	}), nil)
}

// handleCursor relays a cursor move to everyone else in the room. The
// connection id travels along so a recipient can discard frames that
// originated from itself.
func (c *Coordinator) handleCursor(s *Session, data json.RawMessage) {
	var payload CursorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	username := payload.Username
	if username == "" {
		username = s.Username
	}

	c.registry.Broadcast(s.DocID, encodeEvent(EventCursorUpdate, CursorUpdatePayload{
		Username:     username,
		Range:        payload.Range,
		ConnectionID: s.ID,
	}), s)
}

// handleComment persists a comment and broadcasts it to the whole room,
// including the author (their client renders it from the broadcast like
// everyone else's).
func (c *Coordinator) handleComment(ctx context.Context, s *Session, data json.RawMessage) {
	var payload AddCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	comment := payload.Comment
	if comment.Author == "" {
		comment.Author = s.Username
	}
	if comment.ID == "" {
		// Assigned here, not in the store, so the broadcast carries the same
		// id that was persisted.
		comment.ID = ksuid.New().String()
	}

	if err := c.store.AppendComment(ctx, s.DocID, &comment); err != nil {
		if !errors.Is(err, repository.ErrDocumentNotFound) {
			log.Printf("session %s: failed to store comment: %v", s.ID, err)
			middleware.AddSpanError(ctx, err)
		}
		return
	}

	c.registry.Broadcast(s.DocID, encodeEvent(EventNewComment, comment), nil)
}

// Disconnect removes the session from presence and the room, then tells the
// remaining connections who is still online. Safe to call for sessions that
// never joined.
func (c *Coordinator) Disconnect(_ context.Context, s *Session) {
	if !s.Joined() {
		return
	}

	users := c.registry.RemovePresence(s.DocID, s.Username)
	c.registry.Unregister(s)
	c.registry.Broadcast(s.DocID, encodeEvent(EventUpdateUsers, users), nil)
}

// sendToSelf queues a frame for one session only.
func (c *Coordinator) sendToSelf(s *Session, message []byte) {
	if message == nil {
		return
	}
	select {
	case s.Send <- message:
	default:
		log.Printf("⚠️  Session %s buffer full, dropping direct message", s.ID)
	}
}
