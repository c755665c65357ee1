package repository

import (
	"context"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"gorm.io/gorm"
)

// FeedQuery filters the feed. ViewerID is always applied: private posts of
// other authors are never returned.
type FeedQuery struct {
	ViewerID uint
	Audience models.Audience
	AuthorID uint
	PostType models.PostType
	Limit    int
	Offset   int
}

// CascadeReport counts rows removed with a post.
type CascadeReport struct {
	Comments         int64  `json:"comments"`
	CommentReactions int64  `json:"comment_reactions"`
	PostReactions    int64  `json:"post_reactions"`
	CommentIDs       []uint `json:"-"`
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, q FeedQuery) ([]*models.Post, error)
	UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) (*models.Post, error)
	SetPinned(ctx context.Context, id uint, pinned bool) (*models.Post, error)
	DeleteCascade(ctx context.Context, id uint) (*CascadeReport, error)
}

type postRepository struct {
	tx  *Transactor
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(tx *Transactor) PostRepository {
	return &postRepository{tx: tx, log: observability.NewRepoLogger("posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	if err := r.tx.DB(ctx).Create(post).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return classify(err)
	}
	r.log.LogCreate(ctx, map[string]any{"post_id": post.ID, "author_id": post.AuthorID})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.tx.DB(ctx).First(&post, id).Error; err != nil {
		return nil, readError(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, q FeedQuery) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()
	db := r.tx.DB(ctx).
		Where("(audience = ? OR author_id = ?)", models.AudiencePublic, q.ViewerID)
	if q.Audience != "" {
		db = db.Where("audience = ?", q.Audience)
	}
	if q.AuthorID != 0 {
		db = db.Where("author_id = ?", q.AuthorID)
	}
	if q.PostType != "" {
		db = db.Where("post_type = ?", q.PostType)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}

	var posts []*models.Post
	err := db.Order("is_pinned DESC").Order("created_at DESC").Order("id DESC").Find(&posts).Error
	if err != nil {
		return nil, readError(err, "Post", 0)
	}
	return posts, nil
}

func (r *postRepository) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) (*models.Post, error) {
	var post models.Post
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		if err := bumpRevision(tx, &models.Post{}, "Post", id, map[string]interface{}{
			"content":    content,
			"edited_at":  editedAt,
			"updated_at": editedAt,
		}); err != nil {
			return err
		}
		return tx.First(&post, id).Error
	})
	if err != nil {
		return nil, err
	}
	r.log.LogUpdate(ctx, map[string]any{"post_id": id, "revision": post.Revision})
	return &post, nil
}

func (r *postRepository) SetPinned(ctx context.Context, id uint, pinned bool) (*models.Post, error) {
	var post models.Post
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		if err := bumpRevision(tx, &models.Post{}, "Post", id, map[string]interface{}{"is_pinned": pinned}); err != nil {
			return err
		}
		return tx.First(&post, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// DeleteCascade removes the post, its comments, and every reaction attached
// to any of them in one transaction.
func (r *postRepository) DeleteCascade(ctx context.Context, id uint) (*CascadeReport, error) {
	defer observability.TrackQuery("delete_cascade", "posts")()
	report := &CascadeReport{}
	err := r.tx.Run(ctx, func(tx *gorm.DB) error {
		*report = CascadeReport{}
		// Locks the post row so concurrent comment inserts serialize behind the delete.
		if err := bumpRevision(tx, &models.Post{}, "Post", id, nil); err != nil {
			return err
		}

		var commentIDs []uint
		if err := tx.Model(&models.Comment{}).Where("post_id = ?", id).Pluck("id", &commentIDs).Error; err != nil {
			return err
		}
		if len(commentIDs) > 0 {
			res := tx.Where("subject_type = ? AND subject_id IN ?", models.SubjectComment, commentIDs).
				Delete(&models.Reaction{})
			if res.Error != nil {
				return res.Error
			}
			report.CommentReactions = res.RowsAffected
		}

		res := tx.Where("post_id = ?", id).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		report.Comments = res.RowsAffected
		report.CommentIDs = commentIDs

		res = tx.Where("subject_type = ? AND subject_id = ?", models.SubjectPost, id).Delete(&models.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		report.PostReactions = res.RowsAffected

		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return nil, err
	}
	r.log.LogDelete(ctx, map[string]any{
		"post_id":           id,
		"comments":          report.Comments,
		"comment_reactions": report.CommentReactions,
		"post_reactions":    report.PostReactions,
	})
	return report, nil
}

// bumpRevision increments the revision of the row with id, applying extra
// column updates in the same statement. The UPDATE takes the row lock that
// serializes writers on the same post or comment. A missing row is NotFound.
func bumpRevision(tx *gorm.DB, model interface{}, resource string, id uint, extra map[string]interface{}) error {
	updates := map[string]interface{}{"revision": gorm.Expr("revision + 1")}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(model).Where("id = ?", id).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError(resource, id)
	}
	return nil
}

// currentRevision reads the revision column of the row with id.
func currentRevision(tx *gorm.DB, model interface{}, id uint) (int64, error) {
	var rev int64
	err := tx.Model(model).Select("revision").Where("id = ?", id).Scan(&rev).Error
	return rev, err
}
