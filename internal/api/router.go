package api

import (
	"github.com/gorilla/mux"

	"docsync/internal/middleware"
	"docsync/internal/services/collaboration"
)

// SetupRoutes builds the HTTP surface: the one-shot undo endpoint, a health
// check, and the per-document WebSocket channel everything else flows over.
func SetupRoutes(h *Handler, ws *collaboration.WebSocketHandler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.HandleFunc("/undo/{docId}", h.UndoDocument).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/ws/document/{id}", ws.HandleDocumentConnection)

	return r
}
