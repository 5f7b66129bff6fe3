package collaboration

import (
	"context"

	"docsync/internal/delta"
	"docsync/internal/models"
)

// DocumentStore is what the coordinator needs from document storage. Declared
// here, on the consumer side; both the GORM and the in-memory repository
// satisfy it without knowing it exists.
type DocumentStore interface {
	GetOrCreate(ctx context.Context, id string) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	UpdateContent(ctx context.Context, id string, content delta.Delta) error
	AppendVersion(ctx context.Context, id string, snapshot delta.Delta, author string) error
	UpsertCollaborator(ctx context.Context, id, username string, role models.Role) error
	AppendComment(ctx context.Context, id string, comment *models.Comment) error
}
