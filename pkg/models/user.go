package models

import "time"

// User is a principal identity resolved by the external auth capability.
// The platform never validates credentials; it stores display attributes
// and the opaque credit balance manipulated by the billing capability.
type User struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	DisplayName string    `gorm:"size:255" json:"display_name,omitempty"`
	Email       string    `gorm:"size:255" json:"email,omitempty"`
	Credits     int64     `gorm:"default:0" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// GetDisplayName returns the display name, or username if unset.
func (u *User) GetDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
