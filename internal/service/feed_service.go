package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxPostContentLen = 50000
	defaultFeedLimit  = 20
	maxFeedLimit      = 100
)

// FeedSnapshot is one live feed page. Its Revision is a per-subscription
// sequence number, not a store revision.
type FeedSnapshot = notifications.Snapshot[[]*models.Post]

// FeedFilter narrows the feed. Zero values mean "any".
type FeedFilter struct {
	Audience models.Audience
	AuthorID uint
	PostType models.PostType
	Limit    int
	Offset   int
}

type CreatePostInput struct {
	AuthorID uint
	Content  string
	Audience models.Audience
	Images   []string
	PostType models.PostType
}

type EditPostInput struct {
	PostID  uint
	UserID  uint
	Content string
}

type DeletePostInput struct {
	PostID uint
	UserID uint
}

type PinPostInput struct {
	PostID uint
	UserID uint
	Pinned bool
}

// FeedService assembles the post feed and owns the post lifecycle.
type FeedService struct {
	posts     repository.PostRepository
	reactions repository.ReactionRepository
	ledger    *ReactionService
	authz     *Authorizer
	live      Live
	now       func() time.Time
}

func NewFeedService(
	posts repository.PostRepository,
	reactions repository.ReactionRepository,
	ledger *ReactionService,
	authz *Authorizer,
	live Live,
) *FeedService {
	return &FeedService{
		posts:     posts,
		reactions: reactions,
		ledger:    ledger,
		authz:     authz,
		live:      live,
		now:       time.Now,
	}
}

// SortFeed orders posts pinned first, then newest first. A zero CreatedAt
// sorts as the oldest possible post; ids break ties, newest first.
func SortFeed(posts []*models.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (f FeedFilter) query(viewerID uint) (repository.FeedQuery, error) {
	if f.Audience != "" && !f.Audience.Valid() {
		return repository.FeedQuery{}, models.NewValidationError("Invalid audience")
	}
	if f.PostType != "" && !f.PostType.Valid() {
		return repository.FeedQuery{}, models.NewValidationError("Invalid post_type")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	return repository.FeedQuery{
		ViewerID: viewerID,
		Audience: f.Audience,
		AuthorID: f.AuthorID,
		PostType: f.PostType,
		Limit:    limit,
		Offset:   max(f.Offset, 0),
	}, nil
}

// ListFeed returns the posts viewerID may see, each with its reactions view.
func (s *FeedService) ListFeed(ctx context.Context, viewerID uint, filter FeedFilter) (posts []*models.Post, err error) {
	span, ctx := observability.NewSpan(ctx, "FeedService.ListFeed", attribute.Int("viewer_id", int(viewerID)))
	defer span.Finish(&err)

	q, err := filter.query(viewerID)
	if err != nil {
		return nil, err
	}
	posts, err = s.posts.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, posts); err != nil {
		return nil, err
	}
	SortFeed(posts)
	return posts, nil
}

// GetPost returns one post with its reactions. Hidden posts are NotFound.
func (s *FeedService) GetPost(ctx context.Context, viewerID, postID uint) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.VisibleTo(viewerID) {
		return nil, models.NewNotFoundError("Post", postID)
	}
	reactions, _, err := s.reactions.ForSubject(ctx, models.PostSubject(postID))
	if err != nil {
		return nil, err
	}
	post.Reactions = reactions
	return post, nil
}

func validatePostContent(content string, images int) error {
	if utf8.RuneCountInString(content) > maxPostContentLen {
		return models.NewValidationError("Content too long (max 50000 characters)")
	}
	if strings.TrimSpace(content) == "" && images == 0 {
		return models.NewValidationError("Post must have content or at least one image")
	}
	return nil
}

func validateImageURI(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return models.NewValidationError(fmt.Sprintf("Invalid image URI %q", raw))
	}
	return nil
}

// CreatePost publishes a post as AuthorID, capturing their current name and photo.
func (s *FeedService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	span, ctx := observability.NewSpan(ctx, "FeedService.CreatePost", attribute.Int("author_id", int(in.AuthorID)))
	defer span.Finish(&err)

	if in.Audience == "" {
		in.Audience = models.AudiencePublic
	}
	if !in.Audience.Valid() {
		return nil, models.NewValidationError("Invalid audience")
	}
	if in.PostType == "" {
		in.PostType = models.PostTypePost
	}
	if !in.PostType.Valid() {
		return nil, models.NewValidationError("Invalid post_type")
	}
	if len(in.Images) > models.MaxPostImages {
		return nil, models.NewValidationError(fmt.Sprintf("A post can carry at most %d images", models.MaxPostImages))
	}
	images := make([]string, 0, len(in.Images))
	for _, raw := range in.Images {
		if err := validateImageURI(raw); err != nil {
			return nil, err
		}
		images = append(images, strings.TrimSpace(raw))
	}
	if err := validatePostContent(in.Content, len(images)); err != nil {
		return nil, err
	}

	actor, err := s.authz.Actor(ctx, in.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := requireGate(actor.CanCreatePost, "create posts"); err != nil {
		return nil, err
	}
	if in.PostType == models.PostTypeAnnouncement && !actor.CanPublishAnnouncements() {
		return nil, models.NewUnauthorizedError("Only teachers and admins can post announcements")
	}

	post = &models.Post{
		AuthorID:       actor.ID,
		AuthorName:     actor.DisplayName(),
		AuthorPhotoURL: actor.PhotoURL,
		Content:        in.Content,
		Images:         images,
		Audience:       in.Audience,
		PostType:       in.PostType,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	post.Reactions = map[uint]models.ReactionKind{}
	s.publish(ctx, post.ID, post.Revision)
	return post, nil
}

// EditPost replaces the content of the caller's own post. Audience, images
// and reactions are left as they are.
func (s *FeedService) EditPost(ctx context.Context, in EditPostInput) (*models.Post, error) {
	existing, err := s.posts.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if existing.AuthorID != in.UserID {
		if !existing.VisibleTo(in.UserID) {
			return nil, models.NewNotFoundError("Post", in.PostID)
		}
		return nil, models.NewUnauthorizedError("You can only edit your own posts")
	}
	if err := validatePostContent(in.Content, len(existing.Images)); err != nil {
		return nil, err
	}

	post, err := s.posts.UpdateContent(ctx, in.PostID, in.Content, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, post.ID, post.Revision)
	return s.withReactions(ctx, post)
}

// DeletePost removes a post with all of its comments and reactions. Only the
// author or an admin may delete.
func (s *FeedService) DeletePost(ctx context.Context, in DeletePostInput) (report *repository.CascadeReport, err error) {
	span, ctx := observability.NewSpan(ctx, "FeedService.DeletePost", attribute.Int("post_id", int(in.PostID)))
	defer span.Finish(&err)

	existing, err := s.posts.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	actor, err := s.authz.Actor(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !canModerate(actor, existing.AuthorID) {
		if !existing.VisibleTo(in.UserID) {
			return nil, models.NewNotFoundError("Post", in.PostID)
		}
		return nil, models.NewUnauthorizedError("You can only delete your own posts")
	}

	report, err = s.posts.DeleteCascade(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	// Thread and reaction watchers refetch, see NotFound, and end.
	s.live.publish(ctx, notifications.Event{
		Type:     notifications.EventPost,
		Subject:  models.PostSubject(in.PostID).String(),
		Revision: existing.Revision + 1,
	}, notifications.FeedChannel,
		notifications.ThreadChannel(in.PostID),
		notifications.ReactionsChannel(models.PostSubject(in.PostID)),
	)
	publishCommentsGone(ctx, s.live, report.CommentIDs)
	return report, nil
}

// PinPost pins or unpins an announcement. Teachers and admins only.
func (s *FeedService) PinPost(ctx context.Context, in PinPostInput) (*models.Post, error) {
	actor, err := s.authz.Actor(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !actor.CanPublishAnnouncements() {
		return nil, models.NewUnauthorizedError("Only teachers and admins can pin announcements")
	}
	existing, err := s.posts.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if existing.PostType != models.PostTypeAnnouncement {
		return nil, models.NewValidationError("Only announcements can be pinned")
	}

	post, err := s.posts.SetPinned(ctx, in.PostID, in.Pinned)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, post.ID, post.Revision)
	return s.withReactions(ctx, post)
}

// ToggleReaction reacts to a post through the ledger.
func (s *FeedService) ToggleReaction(ctx context.Context, postID, userID uint, kind models.ReactionKind) (models.ReactionResult, error) {
	return s.ledger.SetReaction(ctx, models.PostSubject(postID), userID, kind)
}

// SubscribeToFeed pushes a fresh feed page after any post, comment count or
// post reaction change.
func (s *FeedService) SubscribeToFeed(ctx context.Context, viewerID uint, filter FeedFilter, cb func(FeedSnapshot), opts ...SubscribeOption) (*notifications.Subscription, error) {
	if _, err := filter.query(viewerID); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) (FeedSnapshot, error) {
		posts, err := s.ListFeed(ctx, viewerID, filter)
		if err != nil {
			return FeedSnapshot{}, err
		}
		return FeedSnapshot{Data: posts}, nil
	}
	options := s.live.options("feed", []string{notifications.FeedChannel}, opts)
	options.Unordered = true
	return notifications.Watch(ctx, s.live.Broker, options, fetch, cb)
}

func (s *FeedService) attachReactions(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	byPost, err := s.reactions.ForSubjects(ctx, models.SubjectPost, ids)
	if err != nil {
		return err
	}
	for _, p := range posts {
		p.Reactions = byPost[p.ID]
		if p.Reactions == nil {
			p.Reactions = map[uint]models.ReactionKind{}
		}
	}
	return nil
}

func (s *FeedService) withReactions(ctx context.Context, post *models.Post) (*models.Post, error) {
	if err := s.attachReactions(ctx, []*models.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *FeedService) publish(ctx context.Context, postID uint, rev int64) {
	s.live.publish(ctx, notifications.Event{
		Type:     notifications.EventPost,
		Subject:  models.PostSubject(postID).String(),
		Revision: rev,
	}, notifications.FeedChannel)
}
