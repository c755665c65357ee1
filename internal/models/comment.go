package models

import (
	"time"
)

// Comment is an entry in a post's thread. ParentID is nil for top-level
// comments; replies point at a top-level comment of the same post.
type Comment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PostID         uint       `gorm:"not null;index" json:"post_id"`
	ParentID       *uint      `gorm:"index" json:"parent_id,omitempty"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	AuthorName     string     `json:"author_name"`
	AuthorPhotoURL string     `json:"author_photo_url"`
	Text           string     `gorm:"type:text;not null" json:"text"`
	Revision       int64      `gorm:"not null;default:0" json:"revision"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

// IsTopLevel reports whether the comment has no parent.
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// ThreadNode groups a top-level comment with its replies.
type ThreadNode struct {
	Comment *Comment   `json:"comment"`
	Replies []*Comment `json:"replies"`
}

// GroupThread arranges a creation-ordered comment list into top-level nodes.
// Replies whose parent is missing from the list are dropped.
func GroupThread(comments []*Comment) []*ThreadNode {
	nodes := make([]*ThreadNode, 0, len(comments))
	byID := make(map[uint]*ThreadNode, len(comments))
	for _, c := range comments {
		if c.IsTopLevel() {
			n := &ThreadNode{Comment: c, Replies: []*Comment{}}
			nodes = append(nodes, n)
			byID[c.ID] = n
		}
	}
	for _, c := range comments {
		if c.IsTopLevel() {
			continue
		}
		if parent, ok := byID[*c.ParentID]; ok {
			parent.Replies = append(parent.Replies, c)
		}
	}
	return nodes
}
