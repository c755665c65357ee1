package repository

import (
	"context"
	"sync"
	"testing"

	"campusfeed/internal/models"
	"campusfeed/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionRepository_ToggleRules(t *testing.T) {
	r := newSQLiteRepos(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, r.db)
	post := testutil.CreatePost(t, r.db, author)
	subject := models.PostSubject(post.ID)

	res, rev1, err := r.reactions.Toggle(ctx, subject, author.ID, models.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionResult{Applied: true, Kind: models.ReactionLike}, res)

	res, rev2, err := r.reactions.Toggle(ctx, subject, author.ID, models.ReactionLove)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionResult{Applied: true, Kind: models.ReactionLove}, res)
	assert.Greater(t, rev2, rev1)

	got, rev, err := r.reactions.ForSubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, map[uint]models.ReactionKind{author.ID: models.ReactionLove}, got)
	assert.Equal(t, rev2, rev)

	res, _, err = r.reactions.Toggle(ctx, subject, author.ID, models.ReactionLove)
	require.NoError(t, err)
	assert.False(t, res.Applied)

	got, _, err = r.reactions.ForSubject(ctx, subject)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReactionRepository_MissingSubject(t *testing.T) {
	r := newSQLiteRepos(t)
	ctx := context.Background()

	_, _, err := r.reactions.Toggle(ctx, models.CommentSubject(42), 1, models.ReactionHaha)
	assert.True(t, models.IsNotFound(err))

	_, _, err = r.reactions.ForSubject(ctx, models.PostSubject(42))
	assert.True(t, models.IsNotFound(err))
}

func TestReactionRepository_ConcurrentUsersKeepDistinctEntries(t *testing.T) {
	r := newSQLiteRepos(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, r.db)
	a := testutil.CreateUser(t, r.db)
	b := testutil.CreateUser(t, r.db)
	post := testutil.CreatePost(t, r.db, author)
	subject := models.PostSubject(post.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []struct {
		id   uint
		kind models.ReactionKind
	}{{a.ID, models.ReactionLike}, {b.ID, models.ReactionLove}} {
		wg.Add(1)
		go func(i int, id uint, kind models.ReactionKind) {
			defer wg.Done()
			_, _, errs[i] = r.reactions.Toggle(ctx, subject, id, kind)
		}(i, u.id, u.kind)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, rev, err := r.reactions.ForSubject(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, map[uint]models.ReactionKind{a.ID: models.ReactionLike, b.ID: models.ReactionLove}, got)
	assert.EqualValues(t, 2, rev)
}

func TestReactionRepository_ForSubjects(t *testing.T) {
	r := newSQLiteRepos(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, r.db)
	p1 := testutil.CreatePost(t, r.db, author)
	p2 := testutil.CreatePost(t, r.db, author)

	_, _, err := r.reactions.Toggle(ctx, models.PostSubject(p1.ID), author.ID, models.ReactionSad)
	require.NoError(t, err)

	got, err := r.reactions.ForSubjects(ctx, models.SubjectPost, []uint{p1.ID, p2.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ReactionSad, got[p1.ID][author.ID])
	assert.NotNil(t, got[p2.ID])
	assert.Empty(t, got[p2.ID])
}
