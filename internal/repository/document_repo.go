package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docsync/internal/delta"
	"docsync/internal/models"
)

// Sentinel errors shared by every store implementation. Callers branch with
// errors.Is; everything else is an opaque storage failure.
var (
	// ErrDocumentNotFound reports a miss on an id the caller expected to exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoHistory reports an undo against a document with fewer than two
	// recorded versions. Undoing past the first recorded edit is disallowed:
	// there is no snapshot to land on before it.
	ErrNoHistory = errors.New("no history to undo")
)

// DocumentRepositoryImpl persists documents, collaborators, versions and
// comments through GORM. It doesn't know about any interface; the collab and
// services packages declare the slices of it they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// GetOrCreate returns the document with the given id, creating it with seed
// content, no collaborators and no history when absent. Safe under concurrent
// calls for the same id: the primary key makes the insert a unique-insert-or-
// fetch, so at most one document is ever created per id.
func (r *DocumentRepositoryImpl) GetOrCreate(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).Preload("Collaborators").First(&doc, "id = ?", id).Error
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc = models.Document{ID: id, Content: delta.Seed()}
	if err := r.db.WithContext(ctx).Create(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the creation race; fetch the winner's row.
			if err := r.db.WithContext(ctx).Preload("Collaborators").First(&doc, "id = ?", id).Error; err != nil {
				return nil, fmt.Errorf("failed to get document after create race: %w", err)
			}
			return &doc, nil
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return &doc, nil
}

// GetByID retrieves a document by id.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// UpdateContent unconditionally overwrites the document's content. Used by
// periodic saves; records no history entry.
func (r *DocumentRepositoryImpl) UpdateContent(ctx context.Context, id string, content delta.Delta) error {
	res := r.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return fmt.Errorf("failed to update content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// AppendVersion records a history entry and sets the document's content to the
// same snapshot, in one transaction so readers never observe one without the
// other.
func (r *DocumentRepositoryImpl) AppendVersion(ctx context.Context, id string, snapshot delta.Delta, author string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).Where("id = ?", id).Update("content", snapshot)
		if res.Error != nil {
			return fmt.Errorf("failed to update content: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrDocumentNotFound
		}

		version := models.Version{DocumentID: id, Snapshot: snapshot, Author: author}
		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("failed to append version: %w", err)
		}
		return nil
	})
}

// PopVersion removes the latest history entry and restores the document's
// content to the previous snapshot, returning it. ErrNoHistory when fewer than
// two versions exist (including when the document itself is unknown).
func (r *DocumentRepositoryImpl) PopVersion(ctx context.Context, id string) (delta.Delta, error) {
	var restored delta.Delta

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Version{}).Where("document_id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count versions: %w", err)
		}
		if count < 2 {
			return ErrNoHistory
		}

		var latest models.Version
		if err := tx.Where("document_id = ?", id).Order("id DESC").First(&latest).Error; err != nil {
			return fmt.Errorf("failed to find latest version: %w", err)
		}
		if err := tx.Delete(&models.Version{}, latest.ID).Error; err != nil {
			return fmt.Errorf("failed to pop version: %w", err)
		}

		var prev models.Version
		if err := tx.Where("document_id = ?", id).Order("id DESC").First(&prev).Error; err != nil {
			return fmt.Errorf("failed to find previous version: %w", err)
		}
		restored = prev.Snapshot

		res := tx.Model(&models.Document{}).Where("id = ?", id).Update("content", restored)
		if res.Error != nil {
			return fmt.Errorf("failed to restore content: %w", res.Error)
		}
		return nil
	})
	if err != nil {
		return delta.Delta{}, err
	}

	return restored, nil
}

// UpsertCollaborator inserts or updates the (document, username) pair's role.
// Role changes are last-write-wins and never rewrite history entries.
func (r *DocumentRepositoryImpl) UpsertCollaborator(ctx context.Context, id, username string, role models.Role) error {
	collaborator := models.Collaborator{DocumentID: id, Username: username, Role: role}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&collaborator).Error
	if err != nil {
		return fmt.Errorf("failed to upsert collaborator: %w", err)
	}
	return nil
}

// AppendComment stores a comment against the document. A missing comment id is
// filled in by the model's BeforeCreate hook.
func (r *DocumentRepositoryImpl) AppendComment(ctx context.Context, id string, comment *models.Comment) error {
	var exists int64
	if err := r.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Count(&exists).Error; err != nil {
		return fmt.Errorf("failed to check document: %w", err)
	}
	if exists == 0 {
		return ErrDocumentNotFound
	}

	comment.DocumentID = id
	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}
	return nil
}
