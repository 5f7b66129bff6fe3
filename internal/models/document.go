package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"

	"docsync/internal/delta"
)

// Role is a collaborator's access level on a document.
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

// Document is a shared rich-text document. The primary key is chosen by the
// client (first join creates the row), so it is plain text rather than a
// generated id. Content is the current operation sequence; Versions is the
// append-only history behind undo.
type Document struct {
	ID            string         `json:"id" gorm:"type:text;primaryKey"`
	Content       delta.Delta    `json:"content" gorm:"type:jsonb;serializer:json"`
	Collaborators []Collaborator `json:"collaborators,omitempty" gorm:"foreignKey:DocumentID"`
	Versions      []Version      `json:"versions,omitempty" gorm:"foreignKey:DocumentID"`
	Comments      []Comment      `json:"comments,omitempty" gorm:"foreignKey:DocumentID"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// Collaborator is a (username, role) pair persisted against a document. It is
// distinct from a live session: it survives disconnects, and its role is
// last-write-wins with no change history.
type Collaborator struct {
	ID         uint   `json:"-" gorm:"primaryKey"`
	DocumentID string `json:"-" gorm:"type:text;not null;uniqueIndex:idx_collaborators_doc_user"`
	Username   string `json:"username" gorm:"type:text;not null;uniqueIndex:idx_collaborators_doc_user"`
	Role       Role   `json:"role" gorm:"type:varchar(16);not null;default:'viewer'"`
}

// Version is one entry in a document's history: the full content snapshot at
// that point, plus who produced it. The serial primary key gives the
// append-only ordering that undo pops from.
type Version struct {
	ID         uint        `json:"-" gorm:"primaryKey"`
	DocumentID string      `json:"-" gorm:"type:text;not null;index"`
	Snapshot   delta.Delta `json:"snapshot" gorm:"type:jsonb;serializer:json"`
	Author     string      `json:"author" gorm:"type:text;not null"`
	CreatedAt  time.Time   `json:"created_at" gorm:"autoCreateTime"`
}

// CursorRange addresses a span of the document in operation-sequence
// coordinates. Shared by cursor events and comment anchors.
type CursorRange struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// Comment is an annotation on a span of the document. Never edited or deleted.
type Comment struct {
	ID         string      `json:"id" gorm:"type:char(27);primaryKey"`
	DocumentID string      `json:"-" gorm:"type:text;not null;index"`
	Author     string      `json:"author" gorm:"type:text;not null"`
	Quote      string      `json:"quote" gorm:"type:text"`
	Body       string      `json:"body" gorm:"type:text;not null"`
	Range      CursorRange `json:"range" gorm:"embedded;embeddedPrefix:range_"`
	CreatedAt  time.Time   `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate assigns a KSUID when the client did not provide an id. KSUIDs
// are time-ordered, which keeps comment ids unique and sortable by creation.
func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}
