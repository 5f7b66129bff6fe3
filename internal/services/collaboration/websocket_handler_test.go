package collaboration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/delta"
	"docsync/internal/models"
)

// liveContextStore records ctx.Err() at the moment of every storage call. The
// in-memory repository never looks at its context, so only a store like this
// can show whether the websocket path hands storage a context that is still
// alive once the upgrade handler has returned.
type liveContextStore struct {
	mu      sync.Mutex
	calls   int
	ctxErrs []error
}

func (s *liveContextStore) observe(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
}

func (s *liveContextStore) GetOrCreate(ctx context.Context, id string) (*models.Document, error) {
	s.observe(ctx)
	return &models.Document{ID: id, Content: delta.Seed()}, nil
}

func (s *liveContextStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	s.observe(ctx)
	return &models.Document{ID: id, Content: delta.Seed()}, nil
}

func (s *liveContextStore) UpdateContent(ctx context.Context, id string, content delta.Delta) error {
	s.observe(ctx)
	return nil
}

func (s *liveContextStore) AppendVersion(ctx context.Context, id string, snapshot delta.Delta, author string) error {
	s.observe(ctx)
	return nil
}

func (s *liveContextStore) UpsertCollaborator(ctx context.Context, id, username string, role models.Role) error {
	s.observe(ctx)
	return nil
}

func (s *liveContextStore) AppendComment(ctx context.Context, id string, comment *models.Comment) error {
	s.observe(ctx)
	return nil
}

func TestStorageContextOutlivesUpgradeHandler(t *testing.T) {
	store := &liveContextStore{}
	registry := NewRegistry(nil)
	registry.Start()
	t.Cleanup(registry.Shutdown)
	handler := NewWebSocketHandler(NewCoordinator(store, registry))

	router := mux.NewRouter()
	router.HandleFunc("/ws/document/{id}", handler.HandleDocumentConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/document/doc-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// Everything past the dial runs after HandleDocumentConnection has
	// returned, which is exactly when net/http cancels the request context.
	payload, err := json.Marshal(JoinPayload{Username: "alice", Role: models.RoleEditor})
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: EventJoinDocument, Data: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(reply, &env))
	assert.Equal(t, EventLoadDocument, env.Event)

	// An edit exercises the read and append-version paths too.
	edit, err := json.Marshal(delta.New(delta.Op{Insert: "hi"}))
	require.NoError(t, err)
	frame, err = json.Marshal(Envelope{Event: EventSendChanges, Data: edit})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// join: GetOrCreate + UpsertCollaborator; edit: GetByID + AppendVersion.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 4
	}, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, ctxErr := range store.ctxErrs {
		assert.NoError(t, ctxErr, "storage call received a dead context")
	}
}
