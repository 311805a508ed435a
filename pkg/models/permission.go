package models

import "time"

// EditPermission is an explicit edit grant on a task beyond ownership.
// A grant is effective while IsActive and not expired.
type EditPermission struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	TaskID        string     `gorm:"index:idx_permissions_task_user,priority:1;not null;size:36" json:"task_id"`
	UserID        string     `gorm:"index:idx_permissions_task_user,priority:2;not null;size:36" json:"user_id"`
	GrantedBy     string     `gorm:"not null;size:36" json:"granted_by"`
	GrantedAt     time.Time  `gorm:"not null" json:"granted_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `gorm:"size:512" json:"revoked_reason,omitempty"`
}

// TableName returns the table name for EditPermission.
func (EditPermission) TableName() string {
	return "edit_permissions"
}

// Effective reports whether the grant admits access at the given instant.
func (p *EditPermission) Effective(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}
