package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"docsync/internal/delta"
	"docsync/internal/middleware"
)

// UndoService rolls a document back by one version: pop the latest history
// entry, restore the previous snapshot, and hand that snapshot back. It has
// no room visibility and never broadcasts — the caller is responsible for
// re-emitting the restored content as a normal edit so other connections
// converge.
type UndoService struct {
	history DocumentHistory
}

// NewUndoService creates an undo service over the given history store.
func NewUndoService(history DocumentHistory) *UndoService {
	return &UndoService{history: history}
}

// Undo pops the latest version of the document and returns the restored
// snapshot. Returns repository.ErrNoHistory when fewer than two versions
// exist or the document is unknown.
func (s *UndoService) Undo(ctx context.Context, docID string) (delta.Delta, error) {
	ctx, span := middleware.StartSpan(ctx, "UndoService.Undo",
		attribute.String("document.id", docID),
	)
	defer span.End()

	restored, err := s.history.PopVersion(ctx, docID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return delta.Delta{}, err
	}
	return restored, nil
}
