package models

import "time"

// Folder is a user-scoped grouping of tasks. A task belongs to at most one
// folder.
type Folder struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string    `gorm:"index;not null;size:36" json:"owner_id"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	Color       string    `gorm:"size:32" json:"color,omitempty"`
	Description string    `gorm:"size:1024" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	// TaskCount is populated on list reads; it is not a column.
	TaskCount int64 `gorm:"-" json:"task_count"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}
