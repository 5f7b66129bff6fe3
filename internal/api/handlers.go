package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"docsync/internal/middleware"
	"docsync/internal/repository"
)

// Handler handles HTTP requests.
type Handler struct {
	undoService UndoService
}

// NewHandler wires the handlers' dependencies.
func NewHandler(undoService UndoService) *Handler {
	return &Handler{undoService: undoService}
}

// UndoDocument pops the latest version of a document and returns the restored
// operation sequence. The response is the snapshot only: the requesting
// client re-emits it as a normal edit so the rest of the room converges —
// this endpoint has no room visibility and never broadcasts.
func (h *Handler) UndoDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	restored, err := h.undoService.Undo(r.Context(), docID)
	switch {
	case errors.Is(err, repository.ErrNoHistory):
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "No undo available"})
	case err != nil:
		log.Printf("[%s] undo failed for %q: %v", middleware.GetRequestID(r.Context()), docID, err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	default:
		respondJSON(w, http.StatusOK, map[string]any{"delta": restored})
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
