package models

import "time"

// DocumentVersion is an immutable snapshot of the editor's HTML for a task.
// Version numbers start at 0 (the original OCR output) and strictly
// increase. Exactly one row per task carries IsLatest and exactly one
// carries IsOriginal.
//
// Content is stored inline for drafts and small payloads; larger promoted
// versions are offloaded to the object store under ObjectKey, in which case
// Content is empty.
//
// CreatedAt is fixed when the row is promoted and never changes; EditedAt
// moves with every in-place overwrite of the latest row. The snapshot window
// is measured against CreatedAt so continuous editing cannot postpone the
// next promotion.
type DocumentVersion struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	TaskID          string    `gorm:"index:idx_versions_task_latest,priority:1;not null;size:36" json:"task_id"`
	VersionNumber   int       `gorm:"not null" json:"version_number"`
	IsLatest        bool      `gorm:"index:idx_versions_task_latest,priority:2;not null;default:false" json:"is_latest"`
	IsOriginal      bool      `gorm:"not null;default:false" json:"is_original"`
	IsDraft         bool      `gorm:"not null;default:false" json:"is_draft"`
	Content         []byte    `gorm:"type:bytes" json:"-"`
	ObjectKey       string    `gorm:"size:1024" json:"object_key,omitempty"`
	ContentChecksum string    `gorm:"not null;size:64" json:"content_checksum"`
	CharacterCount  int       `gorm:"not null;default:0" json:"character_count"`
	WordCount       int       `gorm:"not null;default:0" json:"word_count"`
	EditReason      string    `gorm:"size:64" json:"edit_reason,omitempty"`
	EditedBy        string    `gorm:"not null;size:36" json:"edited_by"`
	EditedAt        time.Time `gorm:"not null" json:"edited_at"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	SessionID       *string   `gorm:"size:36" json:"session_id,omitempty"`
}

// TableName returns the table name for DocumentVersion.
func (DocumentVersion) TableName() string {
	return "document_versions"
}

// Inline reports whether the content bytes live in the row rather than the
// object store.
func (v *DocumentVersion) Inline() bool {
	return v.ObjectKey == ""
}

// ContentSource describes where version content was served from.
type ContentSource string

const (
	// SourceInline means the bytes came from the version row.
	SourceInline ContentSource = "inline"
	// SourceObjectStore means the bytes came from the offloaded object.
	SourceObjectStore ContentSource = "object_store"
	// SourceOriginalFallback means a corrupted latest version forced a
	// fallback to the task's original preview bytes.
	SourceOriginalFallback ContentSource = "original_fallback"
)
