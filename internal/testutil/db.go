// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"

	"campusfeed/internal/database"
	"campusfeed/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory sqlite database private to the test.
// The pool is pinned to one connection: every :memory: connection is a
// separate database, and concurrent callers queue instead of hitting
// SQLITE_BUSY.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// UserOption customizes a fixture user.
type UserOption func(*models.User)

// WithRole sets the user's role.
func WithRole(role models.Role) UserOption {
	return func(u *models.User) { u.Role = role }
}

// WithoutFlags clears every gating flag; pass further options to re-grant some.
func WithoutFlags() UserOption {
	return func(u *models.User) {
		u.CanReact = false
		u.CanComment = false
		u.CanCreatePost = false
		u.CanUpdateInfo = false
		u.CanSetBio = false
		u.CanUploadCover = false
		u.CanUploadProfilePic = false
	}
}

// NewUser builds a student with every gating flag granted.
func NewUser(opts ...UserOption) *models.User {
	u := &models.User{
		FirstName:           gofakeit.FirstName(),
		LastName:            gofakeit.LastName(),
		PhotoURL:            "https://cdn.example.com/u/" + gofakeit.UUID() + ".jpg",
		Role:                models.RoleStudent,
		CanReact:            true,
		CanComment:          true,
		CanCreatePost:       true,
		CanUpdateInfo:       true,
		CanSetBio:           true,
		CanUploadCover:      true,
		CanUploadProfilePic: true,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CreateUser persists NewUser(opts...).
func CreateUser(t testing.TB, db *gorm.DB, opts ...UserOption) *models.User {
	t.Helper()
	u := NewUser(opts...)
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreatePost persists a public post by author.
func CreatePost(t testing.TB, db *gorm.DB, author *models.User, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	p := &models.Post{
		AuthorID:       author.ID,
		AuthorName:     author.DisplayName(),
		AuthorPhotoURL: author.PhotoURL,
		Content:        gofakeit.Sentence(8),
		Images:         []string{},
		Audience:       models.AudiencePublic,
		PostType:       models.PostTypePost,
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, db.Create(p).Error)
	return p
}
