package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const maxCommentLen = 10000

// ThreadSnapshot is the live view of a post's comments in creation order.
type ThreadSnapshot = notifications.Snapshot[[]*models.Comment]

type CommentService struct {
	comments repository.CommentRepository
	posts    repository.PostRepository
	authz    *Authorizer
	live     Live
	now      func() time.Time
}

type PostCommentInput struct {
	PostID   uint
	UserID   uint
	Text     string
	ParentID *uint
}

type EditCommentInput struct {
	CommentID uint
	UserID    uint
	Text      string
}

type DeleteCommentInput struct {
	CommentID uint
	UserID    uint
}

func NewCommentService(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	authz *Authorizer,
	live Live,
) *CommentService {
	return &CommentService{
		comments: comments,
		posts:    posts,
		authz:    authz,
		live:     live,
		now:      time.Now,
	}
}

func validateCommentText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.NewValidationError("Comment text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentLen {
		return "", models.NewValidationError("Comment too long (max 10000 characters)")
	}
	return text, nil
}

// PostComment adds a top-level comment, or a reply when ParentID is set.
// The comment and the post's comments_count change together or not at all.
func (s *CommentService) PostComment(ctx context.Context, in PostCommentInput) (comment *models.Comment, err error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.PostComment", attribute.Int("post_id", int(in.PostID)))
	defer span.Finish(&err)

	text, err := validateCommentText(in.Text)
	if err != nil {
		return nil, err
	}
	if in.ParentID != nil && *in.ParentID == 0 {
		in.ParentID = nil
	}
	actor, err := s.authz.Actor(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := requireGate(s.authz.CanComment(actor), "comment"); err != nil {
		return nil, err
	}
	if _, err := s.visiblePost(ctx, in.UserID, in.PostID); err != nil {
		return nil, err
	}

	comment = &models.Comment{
		PostID:         in.PostID,
		ParentID:       in.ParentID,
		UserID:         actor.ID,
		AuthorName:     actor.DisplayName(),
		AuthorPhotoURL: actor.PhotoURL,
		Text:           text,
	}
	rev, err := s.comments.Create(ctx, comment)
	if err != nil {
		return nil, err
	}
	observability.CommentWrites.WithLabelValues("create").Inc()
	s.publish(ctx, in.PostID, rev, true)
	return comment, nil
}

// EditComment rewrites the text of the caller's own comment.
func (s *CommentService) EditComment(ctx context.Context, in EditCommentInput) (*models.Comment, error) {
	text, err := validateCommentText(in.Text)
	if err != nil {
		return nil, err
	}
	existing, err := s.comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != in.UserID {
		return nil, models.NewUnauthorizedError("You can only edit your own comments")
	}

	updated, rev, err := s.comments.UpdateText(ctx, in.CommentID, text, s.now())
	if err != nil {
		return nil, err
	}
	observability.CommentWrites.WithLabelValues("update").Inc()
	s.publish(ctx, updated.PostID, rev, false)
	return updated, nil
}

// DeleteComment removes a comment and, for a top-level comment, its replies.
// Only the author or an admin may delete.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (deletion *repository.CommentDeletion, err error) {
	span, ctx := observability.NewSpan(ctx, "CommentService.DeleteComment", attribute.Int("comment_id", int(in.CommentID)))
	defer span.Finish(&err)

	existing, err := s.comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	actor, err := s.authz.Actor(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !canModerate(actor, existing.UserID) {
		return nil, models.NewUnauthorizedError("You can only delete your own comments")
	}

	deletion, err = s.comments.DeleteWithReplies(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	observability.CommentWrites.WithLabelValues("delete").Inc()
	s.publish(ctx, deletion.PostID, deletion.PostRevision, true)
	// Comment reaction watchers refetch, see NotFound, and end.
	publishCommentsGone(ctx, s.live, deletion.CommentIDs)
	return deletion, nil
}

// ListComments returns the post's comments, top-level and replies
// interleaved, oldest first.
func (s *CommentService) ListComments(ctx context.Context, viewerID, postID uint) ([]*models.Comment, error) {
	if _, err := s.visiblePost(ctx, viewerID, postID); err != nil {
		return nil, err
	}
	return s.comments.ListByPost(ctx, postID)
}

// Thread returns the post's comments with replies grouped under their parent.
func (s *CommentService) Thread(ctx context.Context, viewerID, postID uint) ([]*models.ThreadNode, error) {
	comments, err := s.ListComments(ctx, viewerID, postID)
	if err != nil {
		return nil, err
	}
	return models.GroupThread(comments), nil
}

// SubscribeToThread pushes the full comment list after every change to the
// thread. It ends with NotFound when the post is deleted or hidden from viewerID.
func (s *CommentService) SubscribeToThread(ctx context.Context, viewerID, postID uint, cb func(ThreadSnapshot), opts ...SubscribeOption) (*notifications.Subscription, error) {
	if _, err := s.visiblePost(ctx, viewerID, postID); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) (ThreadSnapshot, error) {
		post, comments, err := s.comments.ThreadSnapshot(ctx, postID)
		if err != nil {
			return ThreadSnapshot{}, err
		}
		if !post.VisibleTo(viewerID) {
			return ThreadSnapshot{}, models.NewNotFoundError("Post", postID)
		}
		return ThreadSnapshot{Revision: post.Revision, Data: comments}, nil
	}
	options := s.live.options("thread", []string{notifications.ThreadChannel(postID)}, opts)
	return notifications.Watch(ctx, s.live.Broker, options, fetch, cb)
}

func (s *CommentService) visiblePost(ctx context.Context, viewerID, postID uint) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.VisibleTo(viewerID) {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}

// publish notifies thread subscribers, and feed subscribers when comments_count moved.
func (s *CommentService) publish(ctx context.Context, postID uint, rev int64, countChanged bool) {
	channels := []string{notifications.ThreadChannel(postID)}
	if countChanged {
		channels = append(channels, notifications.FeedChannel)
	}
	s.live.publish(ctx, notifications.Event{
		Type:     notifications.EventComment,
		Subject:  models.PostSubject(postID).String(),
		Revision: rev,
	}, channels...)
}

// publishCommentsGone wakes reaction subscribers of deleted comments.
func publishCommentsGone(ctx context.Context, live Live, ids []uint) {
	for _, id := range ids {
		subject := models.CommentSubject(id)
		live.publish(ctx, notifications.Event{
			Type:    notifications.EventReaction,
			Subject: subject.String(),
		}, notifications.ReactionsChannel(subject))
	}
}
