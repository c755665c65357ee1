// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"
)

// Role is the privilege class of a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// User is a school member profile. Gating flags are granted by the
// progression system and are read-only for feed operations.
type User struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `gorm:"not null" json:"last_name"`
	PhotoURL  string `json:"photo_url"`
	CoverURL  string `json:"cover_url"`
	Bio       string `gorm:"type:text" json:"bio"`
	Role      Role   `gorm:"type:varchar(16);not null;index" json:"role"`
	Level     int    `gorm:"not null;default:0" json:"level"`
	XP        int    `gorm:"not null;default:0" json:"xp"`

	CanReact            bool `gorm:"not null;default:false" json:"can_react"`
	CanComment          bool `gorm:"not null;default:false" json:"can_comment"`
	CanCreatePost       bool `gorm:"not null;default:false" json:"can_create_post"`
	CanUpdateInfo       bool `gorm:"not null;default:false" json:"can_update_info"`
	CanSetBio           bool `gorm:"not null;default:false" json:"can_set_bio"`
	CanUploadCover      bool `gorm:"not null;default:false" json:"can_upload_cover"`
	CanUploadProfilePic bool `gorm:"not null;default:false" json:"can_upload_profile_pic"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName joins first and last name, skipping empty parts.
func (u *User) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanPublishAnnouncements reports whether the user may create or pin announcements.
func (u *User) CanPublishAnnouncements() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleTeacher)
}

// Summary returns the public identity fields of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.DisplayName(), PhotoURL: u.PhotoURL}
}

// UserSummary is the identity snapshot attached to reactors and authors.
type UserSummary struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
}
