package repository

import (
	"testing"
	"time"

	"campusfeed/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func fastTransactor(db *gorm.DB, attempts int) *Transactor {
	tx := NewTransactor(db, attempts)
	tx.initialInterval = time.Millisecond
	tx.maxInterval = time.Millisecond
	return tx
}

// newSQLiteRepos wires every repository over a fresh in-memory database.
type sqliteRepos struct {
	db        *gorm.DB
	posts     PostRepository
	comments  CommentRepository
	reactions ReactionRepository
	users     UserRepository
	reconcile ReconcileRepository
}

func newSQLiteRepos(t *testing.T) *sqliteRepos {
	db := testutil.NewDB(t)
	tx := fastTransactor(db, DefaultMaxAttempts)
	return &sqliteRepos{
		db:        db,
		posts:     NewPostRepository(tx),
		comments:  NewCommentRepository(tx),
		reactions: NewReactionRepository(tx),
		users:     NewUserRepository(tx),
		reconcile: NewReconcileRepository(tx),
	}
}
