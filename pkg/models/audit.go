package models

import "time"

// AuditAction names an auditable operation.
type AuditAction string

const (
	ActionOpenViewer         AuditAction = "open_viewer"
	ActionStartSession       AuditAction = "start_session"
	ActionEndSession         AuditAction = "end_session"
	ActionAutoSave           AuditAction = "auto_save"
	ActionPublish            AuditAction = "publish"
	ActionRevert             AuditAction = "revert"
	ActionDownload           AuditAction = "download"
	ActionDelete             AuditAction = "delete"
	ActionGrantPermission    AuditAction = "grant_permission"
	ActionRevokePermission   AuditAction = "revoke_permission"
	ActionCorruptionFallback AuditAction = "corruption_fallback"
)

// AuditRecord is one append-only audit log row. Audit rows are never
// updated or deleted, and survive task deletion for compliance.
type AuditRecord struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	TaskID    string      `gorm:"index:idx_audit_task_at,priority:1;not null;size:36" json:"task_id"`
	UserID    string      `gorm:"index;not null;size:36" json:"user_id"`
	Action    AuditAction `gorm:"not null;size:64" json:"action"`
	VersionID *string     `gorm:"size:36" json:"version_id,omitempty"`
	SessionID *string     `gorm:"size:36" json:"session_id,omitempty"`
	Details   JSONMap     `gorm:"type:text" json:"details,omitempty"`
	IP        string      `gorm:"size:64" json:"ip,omitempty"`
	UserAgent string      `gorm:"size:512" json:"user_agent,omitempty"`
	At        time.Time   `gorm:"index:idx_audit_task_at,priority:2,sort:desc;not null" json:"at"`
}

// TableName returns the table name for AuditRecord.
func (AuditRecord) TableName() string {
	return "audit_records"
}
