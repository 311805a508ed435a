package models

import "time"

// ViewType describes what an edit session opened the document for.
type ViewType string

const (
	// ViewOriginal displays the untouched OCR output.
	ViewOriginal ViewType = "original_view"
	// ViewOnly records access without expecting version writes.
	ViewOnly ViewType = "view_only"
	// ViewEdit is a full editing session.
	ViewEdit ViewType = "edit"
)

// IsValid checks if the view type is known.
func (v ViewType) IsValid() bool {
	return v == ViewOriginal || v == ViewOnly || v == ViewEdit
}

// SessionOutcome records why a session ended.
type SessionOutcome string

const (
	// OutcomeClosed is a normal client-driven end.
	OutcomeClosed SessionOutcome = "closed"
	// OutcomeSuperseded means a newer session for the same (user, task)
	// replaced this one.
	OutcomeSuperseded SessionOutcome = "superseded"
	// OutcomeIdle means the idle reaper ended the session.
	OutcomeIdle SessionOutcome = "idle_timeout"
)

// EditSession is an active editing window over a task. At most one
// non-ended session exists per (user, task); starting a new one ends the
// previous with OutcomeSuperseded.
type EditSession struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	TaskID             string     `gorm:"index;not null;size:36" json:"task_id"`
	UserID             string     `gorm:"index:idx_sessions_user_open,priority:1;not null;size:36" json:"user_id"`
	ViewType           ViewType   `gorm:"not null;size:16" json:"view_type"`
	StartedAt          time.Time  `gorm:"not null" json:"started_at"`
	EndedAt            *time.Time `gorm:"index:idx_sessions_user_open,priority:2" json:"ended_at,omitempty"`
	Outcome            string     `gorm:"size:32" json:"outcome,omitempty"`
	LastActivityAt     time.Time  `gorm:"not null" json:"last_activity_at"`
	VersionsCreated    int        `gorm:"not null;default:0" json:"versions_created"`
	DraftVersionID     *string    `gorm:"size:36" json:"draft_version_id,omitempty"`
	PublishedVersionID *string    `gorm:"size:36" json:"published_version_id,omitempty"`
}

// TableName returns the table name for EditSession.
func (EditSession) TableName() string {
	return "edit_sessions"
}

// Active reports whether the session has not ended.
func (s *EditSession) Active() bool {
	return s.EndedAt == nil
}
