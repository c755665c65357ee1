package service

import (
	"context"
	"sort"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// ReactionSnapshot is the live view of one subject's reactions.
type ReactionSnapshot = notifications.Snapshot[map[uint]models.ReactionKind]

// ReactionService is the reaction ledger for posts and comments.
type ReactionService struct {
	reactions repository.ReactionRepository
	posts     repository.PostRepository
	comments  repository.CommentRepository
	authz     *Authorizer
	directory *Directory
	live      Live
}

func NewReactionService(
	reactions repository.ReactionRepository,
	posts repository.PostRepository,
	comments repository.CommentRepository,
	authz *Authorizer,
	directory *Directory,
	live Live,
) *ReactionService {
	return &ReactionService{
		reactions: reactions,
		posts:     posts,
		comments:  comments,
		authz:     authz,
		directory: directory,
		live:      live,
	}
}

// SetReaction toggles userID's reaction on subject. Repeating the current
// kind removes it (Applied=false); any other kind replaces it.
func (s *ReactionService) SetReaction(ctx context.Context, subject models.Subject, userID uint, kind models.ReactionKind) (result models.ReactionResult, err error) {
	span, ctx := observability.NewSpan(ctx, "ReactionService.SetReaction",
		attribute.String("subject", subject.String()),
		attribute.String("kind", string(kind)),
	)
	defer span.Finish(&err)

	if !kind.Valid() {
		return models.ReactionResult{}, models.NewValidationError("Unknown reaction kind")
	}
	if err := validateSubject(subject); err != nil {
		return models.ReactionResult{}, err
	}
	actor, err := s.authz.Actor(ctx, userID)
	if err != nil {
		return models.ReactionResult{}, err
	}
	if err := requireGate(actor.CanReact, "react"); err != nil {
		return models.ReactionResult{}, err
	}
	if err := s.CheckVisible(ctx, userID, subject); err != nil {
		return models.ReactionResult{}, err
	}

	result, rev, err := s.reactions.Toggle(ctx, subject, userID, kind)
	if err != nil {
		return models.ReactionResult{}, err
	}

	outcome := "removed"
	if result.Applied {
		outcome = "applied"
	}
	observability.ReactionToggles.WithLabelValues(string(subject.Type), string(kind), outcome).Inc()

	channels := []string{notifications.ReactionsChannel(subject)}
	if subject.Type == models.SubjectPost {
		channels = append(channels, notifications.FeedChannel)
	}
	s.live.publish(ctx, notifications.Event{
		Type:     notifications.EventReaction,
		Subject:  subject.String(),
		Revision: rev,
	}, channels...)
	return result, nil
}

// GetReactionsForSubject returns the current userID -> kind mapping.
func (s *ReactionService) GetReactionsForSubject(ctx context.Context, subject models.Subject) (map[uint]models.ReactionKind, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}
	reactions, _, err := s.reactions.ForSubject(ctx, subject)
	return reactions, err
}

// Summary returns per-kind counts and the reactors, ordered by user id.
func (s *ReactionService) Summary(ctx context.Context, subject models.Subject) (*models.ReactionSummary, error) {
	reactions, err := s.GetReactionsForSubject(ctx, subject)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(reactions))
	for id := range reactions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users, err := s.directory.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	reactors := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			reactors = append(reactors, u.Summary())
		} else {
			reactors = append(reactors, models.UserSummary{ID: id})
		}
	}

	return &models.ReactionSummary{
		Subject:   subject,
		Total:     len(reactions),
		Counts:    models.CountReactions(reactions),
		Reactions: reactions,
		Reactors:  reactors,
	}, nil
}

// SubscribeToSubject pushes the full mapping for subject after every change.
// The subscription ends with a NotFound error if the subject is deleted.
func (s *ReactionService) SubscribeToSubject(ctx context.Context, subject models.Subject, cb func(ReactionSnapshot), opts ...SubscribeOption) (*notifications.Subscription, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) (ReactionSnapshot, error) {
		reactions, rev, err := s.reactions.ForSubject(ctx, subject)
		if err != nil {
			return ReactionSnapshot{}, err
		}
		return ReactionSnapshot{Revision: rev, Data: reactions}, nil
	}
	options := s.live.options("reactions_"+string(subject.Type), []string{notifications.ReactionsChannel(subject)}, opts)
	return notifications.Watch(ctx, s.live.Broker, options, fetch, cb)
}

// CheckVisible returns NotFound when viewerID may not see subject: a private
// post of another author, or a comment under one.
func (s *ReactionService) CheckVisible(ctx context.Context, viewerID uint, subject models.Subject) error {
	postID := subject.ID
	if subject.Type == models.SubjectComment {
		c, err := s.comments.GetByID(ctx, subject.ID)
		if err != nil {
			return err
		}
		postID = c.PostID
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if !post.VisibleTo(viewerID) {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func validateSubject(subject models.Subject) error {
	if subject.Type != models.SubjectPost && subject.Type != models.SubjectComment {
		return models.NewValidationError("Unknown reaction subject")
	}
	if subject.ID == 0 {
		return models.NewValidationError("Subject id is required")
	}
	return nil
}
