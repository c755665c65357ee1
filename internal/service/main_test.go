package service

import (
	"errors"
	"testing"
	"time"

	"campusfeed/internal/cache"
	"campusfeed/internal/featureflags"
	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/repository"
	"campusfeed/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testEnv wires every service over one in-memory database and broker.
type testEnv struct {
	db        *gorm.DB
	broker    *notifications.MemoryBroker
	users     repository.UserRepository
	posts     repository.PostRepository
	directory *Directory
	authz     *Authorizer
	reactions *ReactionService
	comments  *CommentService
	feed      *FeedService
	profile   *ProfileService
	reconcile *Reconciler
}

func newTestEnv(t *testing.T, flags string) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	tx := repository.NewTransactor(db, repository.DefaultMaxAttempts)

	users := repository.NewUserRepository(tx)
	posts := repository.NewPostRepository(tx)
	comments := repository.NewCommentRepository(tx)
	reactions := repository.NewReactionRepository(tx)

	broker := notifications.NewMemoryBroker()
	live := Live{Broker: broker, StaleAfter: 2}
	directory := NewDirectory(users, cache.NewStore(nil))
	authz := NewAuthorizer(users, featureflags.NewManager(flags))
	ledger := NewReactionService(reactions, posts, comments, authz, directory, live)

	return &testEnv{
		db:        db,
		broker:    broker,
		users:     users,
		posts:     posts,
		directory: directory,
		authz:     authz,
		reactions: ledger,
		comments:  NewCommentService(comments, posts, authz, live),
		feed:      NewFeedService(posts, reactions, ledger, authz, live),
		profile:   NewProfileService(users, authz, directory),
		reconcile: NewReconciler(repository.NewReconcileRepository(tx), live, 0),
	}
}

func (e *testEnv) user(t *testing.T, opts ...testutil.UserOption) *models.User {
	t.Helper()
	return testutil.CreateUser(t, e.db, opts...)
}

func (e *testEnv) post(t *testing.T, author *models.User, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	return testutil.CreatePost(t, e.db, author, mutate...)
}

func (e *testEnv) commentCount(t *testing.T, postID uint) (counter int, rows int64) {
	t.Helper()
	var post models.Post
	require.NoError(t, e.db.First(&post, postID).Error)
	require.NoError(t, e.db.Model(&models.Comment{}).Where("post_id = ?", postID).Count(&rows).Error)
	return post.CommentsCount, rows
}

func fastBackoff() SubscribeOption {
	return WithBackoff(time.Millisecond, 5*time.Millisecond)
}

func next[T any](t *testing.T, ch <-chan notifications.Snapshot[T]) notifications.Snapshot[T] {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return notifications.Snapshot[T]{}
	}
}

func waitDone(t *testing.T, sub *notifications.Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription still running")
	}
}

func private(p *models.Post) { p.Audience = models.AudiencePrivate }

func announcement(p *models.Post) { p.PostType = models.PostTypeAnnouncement }

func uintPtr(v uint) *uint { return &v }

// assertValidationError asserts that err is an AppError with code VALIDATION_ERROR.
func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeValidation)
}

// assertUnauthorizedError asserts that err is an AppError with code UNAUTHORIZED.
func assertUnauthorizedError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeUnauthorized)
}

func assertNotFoundError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeNotFound)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
}
