package collaboration

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"docsync/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin once the deployment origin is pinned down
		return true
	},
}

// WebSocketHandler upgrades HTTP connections into collaboration sessions.
type WebSocketHandler struct {
	coordinator *Coordinator
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(coordinator *Coordinator) *WebSocketHandler {
	return &WebSocketHandler{coordinator: coordinator}
}

// HandleDocumentConnection upgrades the connection for one document room. The
// path segment fixes the room; identity and role arrive afterwards in the
// join-document event, and until that event the session accepts nothing else.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := mux.Vars(r)["id"]

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", roomID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := NewSession(roomID, conn, h.coordinator)

	// net/http cancels the request context as soon as this handler returns,
	// hijacked connection or not. The pumps and every storage call they make
	// outlive it, so they get a context that keeps the trace linkage but not
	// the cancellation.
	pumpCtx := context.WithoutCancel(ctx)

	// Separate read and write goroutines so neither side can deadlock the
	// other.
	go session.WritePump(pumpCtx)
	go session.ReadPump(pumpCtx)

	log.Printf("✓ WebSocket connection %s established for document %s", session.ID, roomID)
}
