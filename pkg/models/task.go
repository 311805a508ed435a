package models

import "time"

// TaskStatus is the lifecycle state of an OCR task.
type TaskStatus string

const (
	// StatusQueued means the task is waiting in the work queue.
	StatusQueued TaskStatus = "queued"
	// StatusProcessing means a worker holds the task.
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted means the result is durable.
	StatusCompleted TaskStatus = "completed"
	// StatusFailed means processing gave up; ErrorMessage explains why.
	StatusFailed TaskStatus = "failed"
)

// IsValid checks if the status is a known TaskStatus.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Terminal states are sticky; there are no backward transitions.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Task is one unit of OCR work for one file. ProcessingConfig is immutable
// once the task is queued.
type Task struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          string           `gorm:"index:idx_tasks_owner_created,priority:1;not null;size:36" json:"owner_id"`
	FileID           string           `gorm:"index;not null;size:36" json:"file_id"`
	FolderID         *string          `gorm:"index;size:36" json:"folder_id,omitempty"`
	Status           TaskStatus       `gorm:"index;not null;size:16;default:queued" json:"status"`
	ErrorMessage     string           `gorm:"size:2048" json:"error_message,omitempty"`
	Attempts         int              `gorm:"default:0" json:"attempts"`
	WorkerID         string           `gorm:"size:128" json:"worker_id,omitempty"`
	ProcessingConfig ProcessingConfig `gorm:"type:text;not null" json:"processing_config"`
	CreatedAt        time.Time        `gorm:"index:idx_tasks_owner_created,priority:2,sort:desc;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	File   *File   `gorm:"foreignKey:FileID" json:"file,omitempty"`
	Result *Result `gorm:"foreignKey:TaskID" json:"result,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Result is the OCR output metadata for a completed task. Present iff the
// parent task is completed; unique by task.
type Result struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	TaskID           string    `gorm:"uniqueIndex;not null;size:36" json:"task_id"`
	ResultObjectKey  string    `gorm:"not null;size:1024" json:"result_object_key"`
	PageCount        int       `gorm:"not null" json:"page_count"`
	WordCount        int       `gorm:"not null" json:"word_count"`
	ConfidenceScore  float64   `gorm:"not null" json:"confidence_score"`
	ProcessingTimeMs int64     `gorm:"not null" json:"processing_time_ms"`
	ModelVersion     string    `gorm:"size:64" json:"model_version,omitempty"`
	PageImageKeys    JSONMap   `gorm:"type:text" json:"page_image_keys,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Result.
func (Result) TableName() string {
	return "results"
}

// TaskSummary aggregates per-status counts for a task listing.
type TaskSummary struct {
	Total      int64 `json:"total"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
