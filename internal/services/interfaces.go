package services

import (
	"context"

	"docsync/internal/delta"
)

// Interfaces are declared where they are used, not where they are
// implemented: this package is the consumer of the repository, so it states
// exactly the slice of storage it needs and nothing more.

// DocumentHistory is what the undo service needs from document storage.
type DocumentHistory interface {
	PopVersion(ctx context.Context, id string) (delta.Delta, error)
}
