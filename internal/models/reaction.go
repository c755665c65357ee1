package models

import (
	"fmt"
	"strings"
	"time"
)

// ReactionKind is one of the fixed reaction types.
type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionLove  ReactionKind = "love"
	ReactionHaha  ReactionKind = "haha"
	ReactionWow   ReactionKind = "wow"
	ReactionSad   ReactionKind = "sad"
	ReactionAngry ReactionKind = "angry"
	ReactionCare  ReactionKind = "care"
)

// ReactionKinds lists every kind in display order.
var ReactionKinds = []ReactionKind{
	ReactionLike, ReactionLove, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry, ReactionCare,
}

// Valid reports whether k is a known kind.
func (k ReactionKind) Valid() bool {
	for _, known := range ReactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseReactionKind normalizes s and validates it.
func ParseReactionKind(s string) (ReactionKind, error) {
	k := ReactionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", NewValidationError(fmt.Sprintf("Unknown reaction kind %q", s))
	}
	return k, nil
}

// SubjectType names the namespace a reaction belongs to.
type SubjectType string

const (
	SubjectPost    SubjectType = "post"
	SubjectComment SubjectType = "comment"
)

// Subject identifies the post or comment a reaction attaches to.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   uint        `json:"id"`
}

func PostSubject(id uint) Subject    { return Subject{Type: SubjectPost, ID: id} }
func CommentSubject(id uint) Subject { return Subject{Type: SubjectComment, ID: id} }

func (s Subject) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// Reaction is one user's reaction to one subject.
// The combination of SubjectType, SubjectID and UserID is unique.
type Reaction struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	SubjectType SubjectType  `gorm:"type:varchar(16);not null;uniqueIndex:idx_reaction_subject_user,priority:1" json:"subject_type"`
	SubjectID   uint         `gorm:"not null;uniqueIndex:idx_reaction_subject_user,priority:2" json:"subject_id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_reaction_subject_user,priority:3;index" json:"user_id"`
	Kind        ReactionKind `gorm:"type:varchar(16);not null" json:"kind"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ReactionResult reports the outcome of a toggle. Applied is false when the
// call removed an identical existing reaction.
type ReactionResult struct {
	Applied bool         `json:"applied"`
	Kind    ReactionKind `json:"kind,omitempty"`
}

// ReactionSummary is the rendering breakdown for one subject.
type ReactionSummary struct {
	Subject   Subject               `json:"subject"`
	Total     int                   `json:"total"`
	Counts    map[ReactionKind]int  `json:"counts"`
	Reactions map[uint]ReactionKind `json:"reactions"`
	Reactors  []UserSummary         `json:"reactors"`
}

// CountReactions tallies a userID -> kind mapping per kind.
func CountReactions(reactions map[uint]ReactionKind) map[ReactionKind]int {
	counts := make(map[ReactionKind]int, len(ReactionKinds))
	for _, k := range reactions {
		counts[k]++
	}
	return counts
}
