package models

import (
	"time"
)

// Audience controls who may see a post.
type Audience string

const (
	AudiencePublic  Audience = "public"
	AudiencePrivate Audience = "private"
)

// Valid reports whether a is a known audience.
func (a Audience) Valid() bool {
	return a == AudiencePublic || a == AudiencePrivate
}

// PostType distinguishes regular posts from announcements.
type PostType string

const (
	PostTypePost         PostType = "post"
	PostTypeAnnouncement PostType = "announcement"
)

// Valid reports whether t is a known post type.
func (t PostType) Valid() bool {
	return t == PostTypePost || t == PostTypeAnnouncement
}

// MaxPostImages is the number of images a single post may carry.
const MaxPostImages = 5

// Post is a feed entry. AuthorName and AuthorPhotoURL are captured when the
// post is created and are not refreshed when the profile changes.
type Post struct {
	ID             uint     `gorm:"primaryKey" json:"id"`
	AuthorID       uint     `gorm:"not null;index" json:"author_id"`
	AuthorName     string   `json:"author_name"`
	AuthorPhotoURL string   `json:"author_photo_url"`
	Content        string   `gorm:"type:text;not null" json:"content"`
	Images         []string `gorm:"type:text;serializer:json" json:"images"`
	Audience       Audience `gorm:"type:varchar(16);not null;index" json:"audience"`
	PostType       PostType `gorm:"type:varchar(16);not null;index" json:"post_type"`
	IsPinned       bool     `gorm:"not null;default:false;index" json:"is_pinned"`
	// CommentsCount always equals the number of comments stored under the post.
	CommentsCount int `gorm:"not null;default:0" json:"comments_count"`
	// Revision increases in every transaction touching the post, its thread or its reactions.
	Revision int64 `gorm:"not null;default:0" json:"revision"`

	// Reactions is the userID -> kind view of the reaction ledger (computed)
	Reactions map[uint]ReactionKind `gorm:"-" json:"reactions"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// VisibleTo reports whether viewerID may read the post.
func (p *Post) VisibleTo(viewerID uint) bool {
	return p.Audience != AudiencePrivate || p.AuthorID == viewerID
}
