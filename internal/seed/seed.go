package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
	"campusfeed/internal/repository"

	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	Students         int
	Teachers         int
	Posts            int
	CommentsPerPost  int
	ReactionsPerPost int
	// Clean deletes every feed row and user before seeding.
	Clean   bool
	Seed    int64
	MaxDays int
}

// DefaultOptions is a small campus suitable for local development.
func DefaultOptions() Options {
	return Options{
		Students:         40,
		Teachers:         5,
		Posts:            120,
		CommentsPerPost:  6,
		ReactionsPerPost: 10,
		Clean:            true,
		MaxDays:          30,
	}
}

// Report counts what a run created.
type Report struct {
	Users     int
	Posts     int
	Pinned    int
	Comments  int
	Reactions int
	Admin     *models.User
}

// Seeder writes generated data through the repositories.
type Seeder struct {
	db        *gorm.DB
	users     repository.UserRepository
	posts     repository.PostRepository
	comments  repository.CommentRepository
	reactions repository.ReactionRepository
	log       *slog.Logger
}

func NewSeeder(db *gorm.DB) *Seeder {
	tx := repository.NewTransactor(db, repository.DefaultMaxAttempts)
	return &Seeder{
		db:        db,
		users:     repository.NewUserRepository(tx),
		posts:     repository.NewPostRepository(tx),
		comments:  repository.NewCommentRepository(tx),
		reactions: repository.NewReactionRepository(tx),
		log:       observability.GlobalLogger.With(slog.String("component", "seed")),
	}
}

// ClearAll removes reactions, comments, posts and users, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	for _, model := range []any{&models.Reaction{}, &models.Comment{}, &models.Post{}, &models.User{}} {
		if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	return nil
}

// Run seeds users, posts, threads and reactions according to opts.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Students+opts.Teachers == 0 {
		return nil, errors.New("seed: at least one user is required")
	}
	if opts.Clean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, err
		}
	}

	f := NewFactory(opts.Seed, opts.MaxDays)
	report := &Report{}

	admin := f.BuildUser(models.RoleAdmin)
	if err := s.users.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	report.Admin = admin
	members := []*models.User{admin}

	for i := 0; i < opts.Teachers+opts.Students; i++ {
		role := models.RoleStudent
		if i < opts.Teachers {
			role = models.RoleTeacher
		}
		u := f.BuildUser(role)
		if err := s.users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		members = append(members, u)
	}
	report.Users = len(members)
	s.log.InfoContext(ctx, "users created", slog.Int("count", report.Users))

	for i := 0; i < opts.Posts; i++ {
		author := members[f.Pick(len(members))]
		post := f.BuildPost(author)
		if err := s.posts.Create(ctx, post); err != nil {
			return nil, fmt.Errorf("create post: %w", err)
		}
		report.Posts++

		if post.PostType == models.PostTypeAnnouncement && report.Pinned < 3 {
			if _, err := s.posts.SetPinned(ctx, post.ID, true); err != nil {
				return nil, fmt.Errorf("pin post %d: %w", post.ID, err)
			}
			report.Pinned++
		}

		n, err := s.seedThread(ctx, f, post, members, opts.CommentsPerPost, opts.ReactionsPerPost)
		if err != nil {
			return nil, err
		}
		report.Comments += n.comments
		report.Reactions += n.reactions
	}

	s.log.InfoContext(ctx, "seeding complete",
		slog.Int("users", report.Users),
		slog.Int("posts", report.Posts),
		slog.Int("comments", report.Comments),
		slog.Int("reactions", report.Reactions),
	)
	return report, nil
}

type threadCounts struct {
	comments  int
	reactions int
}

func (s *Seeder) seedThread(ctx context.Context, f *Factory, post *models.Post, members []*models.User, maxComments, maxReactions int) (threadCounts, error) {
	var counts threadCounts
	var topLevel []*models.Comment

	for i := f.Pick(maxComments + 1); i > 0; i-- {
		var parent *models.Comment
		if len(topLevel) > 0 && f.Pick(3) == 0 {
			parent = topLevel[f.Pick(len(topLevel))]
		}
		c := f.BuildComment(post, members[f.Pick(len(members))], parent)
		if _, err := s.comments.Create(ctx, c); err != nil {
			return counts, fmt.Errorf("create comment on post %d: %w", post.ID, err)
		}
		if parent == nil {
			topLevel = append(topLevel, c)
		}
		counts.comments++
	}

	// Distinct reactors so every toggle applies rather than removes.
	reactors := min(f.Pick(maxReactions+1), len(members))
	start := f.Pick(len(members))
	for i := 0; i < reactors; i++ {
		u := members[(start+i)%len(members)]
		if _, _, err := s.reactions.Toggle(ctx, models.PostSubject(post.ID), u.ID, f.ReactionKind()); err != nil {
			return counts, fmt.Errorf("react to post %d: %w", post.ID, err)
		}
		counts.reactions++
	}
	for _, c := range topLevel {
		if f.Pick(2) == 0 {
			continue
		}
		u := members[f.Pick(len(members))]
		if _, _, err := s.reactions.Toggle(ctx, models.CommentSubject(c.ID), u.ID, f.ReactionKind()); err != nil {
			return counts, fmt.Errorf("react to comment %d: %w", c.ID, err)
		}
		counts.reactions++
	}
	return counts, nil
}
