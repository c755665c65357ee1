package seed

import (
	"context"
	"testing"

	"campusfeed/internal/models"
	"campusfeed/internal/repository"
	"campusfeed/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_BuildUser(t *testing.T) {
	f := NewFactory(42, 0)

	teacher := f.BuildUser(models.RoleTeacher)
	assert.Equal(t, models.RoleTeacher, teacher.Role)
	assert.True(t, teacher.CanUploadCover)
	assert.True(t, teacher.CanSetBio)
	assert.NotEmpty(t, teacher.DisplayName())

	student := f.BuildUser(models.RoleStudent)
	assert.True(t, student.CanCreatePost)
	assert.True(t, student.CanReact)
}

func TestFactory_BuildPost(t *testing.T) {
	f := NewFactory(7, 10)
	student := f.BuildUser(models.RoleStudent)
	teacher := f.BuildUser(models.RoleTeacher)

	for i := 0; i < 50; i++ {
		p := f.BuildPost(student)
		assert.Equal(t, models.PostTypePost, p.PostType)
		assert.LessOrEqual(t, len(p.Images), models.MaxPostImages)
		assert.False(t, p.CreatedAt.IsZero())

		if a := f.BuildPost(teacher); a.PostType == models.PostTypeAnnouncement {
			assert.Equal(t, models.AudiencePublic, a.Audience)
		}
	}
}

func TestSeeder_Run(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	s := NewSeeder(db)

	report, err := s.Run(ctx, Options{
		Students:         6,
		Teachers:         2,
		Posts:            15,
		CommentsPerPost:  4,
		ReactionsPerPost: 5,
		Seed:             1,
	})
	require.NoError(t, err)
	require.NotNil(t, report.Admin)
	assert.True(t, report.Admin.IsAdmin())
	assert.Equal(t, 9, report.Users)
	assert.Equal(t, 15, report.Posts)

	var users, posts, comments, reactions int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	require.NoError(t, db.Model(&models.Comment{}).Count(&comments).Error)
	require.NoError(t, db.Model(&models.Reaction{}).Count(&reactions).Error)
	assert.EqualValues(t, report.Users, users)
	assert.EqualValues(t, report.Posts, posts)
	assert.EqualValues(t, report.Comments, comments)
	assert.EqualValues(t, report.Reactions, reactions)

	// Counters match rows and replies are one level deep.
	drifted, err := repository.NewReconcileRepository(repository.NewTransactor(db, 1)).DriftedPostIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifted)

	var nested int64
	require.NoError(t, db.Table("comments AS c").
		Joins("JOIN comments AS p ON p.id = c.parent_id").
		Where("p.parent_id IS NOT NULL").
		Count(&nested).Error)
	assert.Zero(t, nested)
}

func TestSeeder_RunCleans(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	s := NewSeeder(db)
	opts := Options{Students: 3, Posts: 4, CommentsPerPost: 2, ReactionsPerPost: 2}

	_, err := s.Run(ctx, opts)
	require.NoError(t, err)

	opts.Clean = true
	report, err := s.Run(ctx, opts)
	require.NoError(t, err)

	var posts int64
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	assert.EqualValues(t, report.Posts, posts)
}

func TestSeeder_RequiresUsers(t *testing.T) {
	_, err := NewSeeder(testutil.NewDB(t)).Run(context.Background(), Options{Posts: 3})
	assert.Error(t, err)
}
