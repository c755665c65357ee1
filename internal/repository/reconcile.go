package repository

import (
	"context"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"gorm.io/gorm"
)

// ReconcileRepository finds and repairs rows that violate the feed's
// referential and counter invariants.
type ReconcileRepository interface {
	DeleteOrphanComments(ctx context.Context) (int64, error)
	DeleteOrphanReactions(ctx context.Context) (int64, error)
	DriftedPostIDs(ctx context.Context) ([]uint, error)
	RecountComments(ctx context.Context, postID uint) (int64, error)
}

type reconcileRepository struct {
	tx  *Transactor
	log *observability.RepoLogger
}

// NewReconcileRepository creates a new reconciliation repository
func NewReconcileRepository(tx *Transactor) ReconcileRepository {
	return &reconcileRepository{tx: tx, log: observability.NewRepoLogger("reconcile")}
}

// DeleteOrphanComments removes comments whose post is gone and replies whose parent is gone.
func (r *reconcileRepository) DeleteOrphanComments(ctx context.Context) (int64, error) {
	var removed int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		removed = 0
		res := tx.Where("post_id NOT IN (?)", tx.Model(&models.Post{}).Select("id")).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		parents := tx.Model(&models.Comment{}).Select("id")
		res = tx.Where("parent_id IS NOT NULL AND parent_id NOT IN (?)", parents).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.log.LogDelete(ctx, map[string]any{"orphan_comments": removed})
	}
	return removed, nil
}

// DeleteOrphanReactions removes reactions whose post or comment is gone.
func (r *reconcileRepository) DeleteOrphanReactions(ctx context.Context) (int64, error) {
	var removed int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		removed = 0
		res := tx.Where("subject_type = ? AND subject_id NOT IN (?)", models.SubjectPost, tx.Model(&models.Post{}).Select("id")).
			Delete(&models.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("subject_type = ? AND subject_id NOT IN (?)", models.SubjectComment, tx.Model(&models.Comment{}).Select("id")).
			Delete(&models.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.log.LogDelete(ctx, map[string]any{"orphan_reactions": removed})
	}
	return removed, nil
}

// DriftedPostIDs lists posts whose comments_count disagrees with their stored comments.
func (r *reconcileRepository) DriftedPostIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.tx.DB(ctx).Model(&models.Post{}).
		Where("comments_count <> (SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id)").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, readError(err, "Post", 0)
	}
	return ids, nil
}

// RecountComments sets comments_count from the stored comments under the post
// row lock and returns the new revision.
func (r *reconcileRepository) RecountComments(ctx context.Context, postID uint) (int64, error) {
	var rev int64
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		if err := bumpRevision(tx, &models.Post{}, "Post", postID, map[string]interface{}{
			"comments_count": gorm.Expr("(SELECT COUNT(*) FROM comments WHERE comments.post_id = ?)", postID),
		}); err != nil {
			return err
		}
		var err error
		rev, err = currentRevision(tx, &models.Post{}, postID)
		return err
	})
	if err != nil {
		return 0, err
	}
	r.log.LogUpdate(ctx, map[string]any{"post_id": postID, "recount": true})
	return rev, nil
}
