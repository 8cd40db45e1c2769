package store

import (
	"encoding/json"
	"time"
)

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	TeamID    *string   `json:"teamId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Email                    string  `json:"email"`
	Avatar                   *string `json:"avatar,omitempty"`
	CurrentProjectID         *string `json:"currentProjectId,omitempty"`
	CurrentlyViewingDocument *string `json:"currentlyViewingDocument,omitempty"`
}

type Taxonomy struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// Term is one flat row of a taxonomy. ParentID is nil for roots; when set,
// it references another term in the same taxonomy. Terms form a forest —
// the referential constraints of the schema are trusted, cycles are not
// re-checked here.
type Term struct {
	ID         string  `json:"id"`
	TaxonomyID string  `json:"taxonomyId"`
	ParentID   *string `json:"parentId"`
	Label      string  `json:"label"`
}

// TermRef is a bare {id,label} pair, used where the full row is not needed.
type TermRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Document struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"projectId"`
	Name        string  `json:"name"`
	BatchID     *string `json:"batchId,omitempty"`
	BatchLabel  string  `json:"batchLabel,omitempty"`
	State       string  `json:"state"`
	UploadedBy  *string `json:"uploadedBy,omitempty"`
	UploadedAt  int64   `json:"uploadedAt,omitempty"`
	CompletedBy *string `json:"completedBy,omitempty"`
	CompletedAt int64   `json:"completedAt,omitempty"`
}

// Annotation is the stored result of annotating one document against a
// taxonomy. Body keeps the client's annotation payload opaque.
type Annotation struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"documentId"`
	Body       json.RawMessage `json:"body"`
	CreatedBy  *string         `json:"createdBy,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Document lifecycle states.
const (
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentComplete   = "complete"
)
