package repository

import (
	"context"
	"errors"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"gorm.io/gorm"
)

// CommentDeletion describes a committed comment delete.
type CommentDeletion struct {
	PostID       uint
	Removed      int64 // the comment plus its replies
	PostRevision int64
	// CommentIDs lists the removed comment and replies.
	CommentIDs   []uint
}

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) (postRevision int64, err error)
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	ThreadSnapshot(ctx context.Context, postID uint) (*models.Post, []*models.Comment, error)
	UpdateText(ctx context.Context, id uint, text string, editedAt time.Time) (*models.Comment, int64, error)
	DeleteWithReplies(ctx context.Context, id uint) (*CommentDeletion, error)
}

type commentRepository struct {
	tx  *Transactor
	log *observability.RepoLogger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(tx *Transactor) CommentRepository {
	return &commentRepository{tx: tx, log: observability.NewRepoLogger("comments")}
}

// Create inserts the comment and increments the post's comments_count in one
// transaction. The parent, when set, is checked after the post row is locked.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) (int64, error) {
	defer observability.TrackQuery("create", "comments")()
	var rev int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		comment.ID = 0
		if err := bumpRevision(tx, &models.Post{}, "Post", comment.PostID, map[string]interface{}{
			"comments_count": gorm.Expr("comments_count + ?", 1),
		}); err != nil {
			return err
		}

		if comment.ParentID != nil {
			var parent models.Comment
			err := tx.Select("id", "post_id", "parent_id").First(&parent, *comment.ParentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewValidationError("Parent comment does not exist")
			}
			if err != nil {
				return err
			}
			if parent.PostID != comment.PostID {
				return models.NewValidationError("Parent comment belongs to another post")
			}
			if !parent.IsTopLevel() {
				return models.NewValidationError("Replies can only be made to top-level comments")
			}
		}

		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		var err error
		rev, err = currentRevision(tx, &models.Post{}, comment.PostID)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.log.LogCreate(ctx, map[string]any{"comment_id": comment.ID, "post_id": comment.PostID})
	return rev, nil
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.tx.DB(ctx).First(&comment, id).Error; err != nil {
		return nil, readError(err, "Comment", id)
	}
	return &comment, nil
}

// ListByPost returns top-level comments and replies interleaved in creation order.
func (r *commentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.tx.DB(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, readError(err, "Comment", 0)
	}
	return comments, nil
}

// ThreadSnapshot reads the post and its comments in one transaction, so the
// post revision describes exactly the returned list.
func (r *commentRepository) ThreadSnapshot(ctx context.Context, postID uint) (*models.Post, []*models.Comment, error) {
	var post models.Post
	var comments []*models.Comment
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		comments = nil
		if err := tx.First(&post, postID).Error; err != nil {
			return readError(err, "Post", postID)
		}
		return tx.Where("post_id = ?", postID).
			Order("created_at ASC").
			Order("id ASC").
			Find(&comments).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &post, comments, nil
}

// UpdateText rewrites the comment text and bumps both the comment and post revisions.
func (r *commentRepository) UpdateText(ctx context.Context, id uint, text string, editedAt time.Time) (*models.Comment, int64, error) {
	var comment models.Comment
	var postRev int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		if err := tx.Select("id", "post_id").First(&comment, id).Error; err != nil {
			return readError(err, "Comment", id)
		}
		if err := bumpRevision(tx, &models.Post{}, "Post", comment.PostID, nil); err != nil {
			return err
		}
		if err := bumpRevision(tx, &models.Comment{}, "Comment", id, map[string]interface{}{
			"text":       text,
			"edited_at":  editedAt,
			"updated_at": editedAt,
		}); err != nil {
			return err
		}
		if err := tx.First(&comment, id).Error; err != nil {
			return err
		}
		var err error
		postRev, err = currentRevision(tx, &models.Post{}, comment.PostID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	r.log.LogUpdate(ctx, map[string]any{"comment_id": id, "post_id": comment.PostID})
	return &comment, postRev, nil
}

// DeleteWithReplies removes the comment, its replies and their reactions, and
// decrements comments_count by the number of comments actually removed. The
// reply set is read after the post row is locked so a reply committed
// concurrently is either deleted here or rejected for lack of a parent.
func (r *commentRepository) DeleteWithReplies(ctx context.Context, id uint) (*CommentDeletion, error) {
	defer observability.TrackQuery("delete", "comments")()
	out := &CommentDeletion{}
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		var target models.Comment
		if err := tx.Select("id", "post_id", "parent_id").First(&target, id).Error; err != nil {
			return readError(err, "Comment", id)
		}
		if err := bumpRevision(tx, &models.Post{}, "Post", target.PostID, nil); err != nil {
			return err
		}

		ids := []uint{id}
		if target.IsTopLevel() {
			var replyIDs []uint
			if err := tx.Model(&models.Comment{}).Where("parent_id = ?", id).Pluck("id", &replyIDs).Error; err != nil {
				return err
			}
			ids = append(ids, replyIDs...)
		}

		if err := tx.Where("subject_type = ? AND subject_id IN ?", models.SubjectComment, ids).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Comment", id)
		}

		if err := tx.Model(&models.Post{}).Where("id = ?", target.PostID).
			UpdateColumn("comments_count", gorm.Expr("comments_count - ?", res.RowsAffected)).
			Error; err != nil {
			return err
		}

		rev, err := currentRevision(tx, &models.Post{}, target.PostID)
		if err != nil {
			return err
		}
		*out = CommentDeletion{PostID: target.PostID, Removed: res.RowsAffected, PostRevision: rev, CommentIDs: ids}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.LogDelete(ctx, map[string]any{"comment_id": id, "post_id": out.PostID, "removed": out.Removed})
	return out, nil
}
