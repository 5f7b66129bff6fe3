package api

import (
	"context"

	"docsync/internal/delta"
)

// Service interfaces live with their consumer: handlers only know the methods
// they call, so service implementations can change freely and tests can stub
// exactly this surface.

// UndoService is what handlers need from the undo path.
type UndoService interface {
	Undo(ctx context.Context, docID string) (delta.Delta, error)
}
