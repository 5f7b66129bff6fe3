package repository

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"docsync/internal/delta"
	"docsync/internal/models"
)

// MemoryRepositoryImpl keeps every document in process memory with the same
// semantics as the GORM implementation. Selected with STORAGE_DRIVER=memory
// for local development, and it is what the collab and undo tests run against.
type MemoryRepositoryImpl struct {
	mu     sync.RWMutex
	docs   map[string]*memoryDocument
	nextID uint
}

type memoryDocument struct {
	doc      models.Document
	versions []models.Version
	comments []models.Comment
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepositoryImpl {
	return &MemoryRepositoryImpl{docs: make(map[string]*memoryDocument)}
}

// GetOrCreate returns or lazily creates the document. Creation is
// double-checked under the write lock, so concurrent joins for a new id
// produce exactly one document.
func (r *MemoryRepositoryImpl) GetOrCreate(_ context.Context, id string) (*models.Document, error) {
	r.mu.RLock()
	rec, ok := r.docs[id]
	r.mu.RUnlock()
	if ok {
		return snapshotDocument(rec), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok = r.docs[id]; ok {
		return snapshotDocument(rec), nil
	}

	now := time.Now()
	rec = &memoryDocument{doc: models.Document{
		ID:        id,
		Content:   delta.Seed(),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	r.docs[id] = rec
	return snapshotDocument(rec), nil
}

// GetByID retrieves a document by id.
func (r *MemoryRepositoryImpl) GetByID(_ context.Context, id string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return snapshotDocument(rec), nil
}

// UpdateContent unconditionally overwrites the document's content with no
// history entry.
func (r *MemoryRepositoryImpl) UpdateContent(_ context.Context, id string, content delta.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	rec.doc.Content = copyDelta(content)
	rec.doc.UpdatedAt = time.Now()
	return nil
}

// AppendVersion records a history entry and sets content to the snapshot as
// one atomic step.
func (r *MemoryRepositoryImpl) AppendVersion(_ context.Context, id string, snapshot delta.Delta, author string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}

	r.nextID++
	rec.versions = append(rec.versions, models.Version{
		ID:         r.nextID,
		DocumentID: id,
		Snapshot:   copyDelta(snapshot),
		Author:     author,
		CreatedAt:  time.Now(),
	})
	rec.doc.Content = copyDelta(snapshot)
	rec.doc.UpdatedAt = time.Now()
	return nil
}

// PopVersion removes the latest version and restores the previous snapshot.
func (r *MemoryRepositoryImpl) PopVersion(_ context.Context, id string) (delta.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok || len(rec.versions) < 2 {
		return delta.Delta{}, ErrNoHistory
	}

	rec.versions = rec.versions[:len(rec.versions)-1]
	restored := rec.versions[len(rec.versions)-1].Snapshot
	rec.doc.Content = copyDelta(restored)
	rec.doc.UpdatedAt = time.Now()
	return copyDelta(restored), nil
}

// VersionCount reports the history length, for tests and diagnostics.
func (r *MemoryRepositoryImpl) VersionCount(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.docs[id]
	if !ok {
		return 0
	}
	return len(rec.versions)
}

// UpsertCollaborator inserts or updates the (document, username) pair's role.
func (r *MemoryRepositoryImpl) UpsertCollaborator(_ context.Context, id, username string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}

	for i := range rec.doc.Collaborators {
		if rec.doc.Collaborators[i].Username == username {
			rec.doc.Collaborators[i].Role = role
			return nil
		}
	}
	rec.doc.Collaborators = append(rec.doc.Collaborators, models.Collaborator{
		DocumentID: id,
		Username:   username,
		Role:       role,
	})
	return nil
}

// AppendComment stores a comment, assigning a KSUID when the id is empty.
func (r *MemoryRepositoryImpl) AppendComment(_ context.Context, id string, comment *models.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}

	if comment.ID == "" {
		comment.ID = ksuid.New().String()
	}
	comment.DocumentID = id
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	rec.comments = append(rec.comments, *comment)
	return nil
}

// snapshotDocument copies the record so callers never alias live state across
// the lock boundary.
func snapshotDocument(rec *memoryDocument) *models.Document {
	doc := rec.doc
	doc.Content = copyDelta(rec.doc.Content)
	doc.Collaborators = append([]models.Collaborator(nil), rec.doc.Collaborators...)
	return &doc
}

func copyDelta(d delta.Delta) delta.Delta {
	if d.Ops == nil {
		return delta.Delta{}
	}
	ops := append([]delta.Op(nil), d.Ops...)
	for i := range ops {
		if len(ops[i].Attributes) == 0 {
			continue
		}
		attrs := make(map[string]any, len(ops[i].Attributes))
		for k, v := range ops[i].Attributes {
			attrs[k] = v
		}
		ops[i].Attributes = attrs
	}
	return delta.Delta{Ops: ops}
}
