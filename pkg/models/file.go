package models

import "time"

// File is the original uploaded artifact. Exactly one object exists in the
// object store under ObjectKey, or carries a deleted=true tag within the
// recovery window after a soft delete.
type File struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string    `gorm:"index;not null;size:36" json:"owner_id"`
	Filename    string    `gorm:"not null;size:512" json:"filename"`
	MimeType    string    `gorm:"not null;size:128" json:"mime_type"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	ContentHash string    `gorm:"size:64" json:"content_hash"`
	ObjectKey   string    `gorm:"uniqueIndex;not null;size:1024" json:"object_key"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}
