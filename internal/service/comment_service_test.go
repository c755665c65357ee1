package service

import (
	"context"
	"strings"
	"testing"

	"campusfeed/internal/models"
	"campusfeed/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentService_PostComment_Validation(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "whitespace", text: " \n\t "},
		{name: "too long", text: strings.Repeat("x", 10001)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: tt.text})
			assertValidationError(t, err)
		})
	}

	counter, rows := e.commentCount(t, post.ID)
	assert.Equal(t, 0, counter)
	assert.EqualValues(t, 0, rows)
}

func TestCommentService_CountMatchesRows(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	var top []*models.Comment
	for i := 0; i < 3; i++ {
		c, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "top"})
		require.NoError(t, err)
		top = append(top, c)
	}
	_, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "reply", ParentID: uintPtr(top[0].ID)})
	require.NoError(t, err)
	_, err = e.comments.DeleteComment(ctx, DeleteCommentInput{CommentID: top[2].ID, UserID: u.ID})
	require.NoError(t, err)

	counter, rows := e.commentCount(t, post.ID)
	assert.Equal(t, 3, counter)
	assert.EqualValues(t, rows, counter)
}

func TestCommentService_DeleteWithReply(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	parent, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "parent"})
	require.NoError(t, err)
	reply, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "r1", ParentID: uintPtr(parent.ID)})
	require.NoError(t, err)
	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "r2", ParentID: uintPtr(parent.ID)})
	require.NoError(t, err)
	sibling, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "sibling"})
	require.NoError(t, err)
	_, err = e.reactions.SetReaction(ctx, models.CommentSubject(reply.ID), u.ID, models.ReactionLike)
	require.NoError(t, err)

	deletion, err := e.comments.DeleteComment(ctx, DeleteCommentInput{CommentID: parent.ID, UserID: u.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, deletion.Removed)

	remaining, err := e.comments.ListComments(ctx, u.ID, post.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, sibling.ID, remaining[0].ID)

	counter, _ := e.commentCount(t, post.ID)
	assert.Equal(t, 1, counter)

	var orphanReactions int64
	require.NoError(t, e.db.Model(&models.Reaction{}).Where("subject_type = ?", models.SubjectComment).Count(&orphanReactions).Error)
	assert.Zero(t, orphanReactions)
}

func TestCommentService_RepliesAreOneLevelDeep(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)
	other := e.post(t, u)

	parent, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "parent"})
	require.NoError(t, err)
	reply, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "reply", ParentID: uintPtr(parent.ID)})
	require.NoError(t, err)

	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "nested", ParentID: uintPtr(reply.ID)})
	assertValidationError(t, err)
	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: other.ID, UserID: u.ID, Text: "cross", ParentID: uintPtr(parent.ID)})
	assertValidationError(t, err)
	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "ghost", ParentID: uintPtr(9999)})
	assertValidationError(t, err)

	counter, rows := e.commentCount(t, post.ID)
	assert.Equal(t, 2, counter)
	assert.EqualValues(t, 2, rows)
	otherCount, _ := e.commentCount(t, other.ID)
	assert.Zero(t, otherCount)
}

func TestCommentService_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("can_react gates comments by default", func(t *testing.T) {
		e := newTestEnv(t, "")
		u := e.user(t, testutil.WithoutFlags(), func(u *models.User) { u.CanComment = true })
		post := e.post(t, e.user(t))

		_, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "hi"})
		assertUnauthorizedError(t, err)
	})

	t.Run("separate gate uses can_comment", func(t *testing.T) {
		e := newTestEnv(t, "separate_comment_gate=on")
		u := e.user(t, testutil.WithoutFlags(), func(u *models.User) { u.CanComment = true })
		post := e.post(t, e.user(t))

		_, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "hi"})
		assert.NoError(t, err)
	})

	t.Run("private posts are invisible to others", func(t *testing.T) {
		e := newTestEnv(t, "")
		post := e.post(t, e.user(t), private)
		stranger := e.user(t)

		_, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: stranger.ID, Text: "hi"})
		assertNotFoundError(t, err)
		_, err = e.comments.ListComments(ctx, stranger.ID, post.ID)
		assertNotFoundError(t, err)
	})
}

func TestCommentService_SnapshotsAuthor(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	c, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "  padded  "})
	require.NoError(t, err)
	assert.Equal(t, "padded", c.Text)
	assert.Equal(t, u.DisplayName(), c.AuthorName)
	assert.Equal(t, u.PhotoURL, c.AuthorPhotoURL)

	_, err = e.profile.UpdateInfo(ctx, u.ID, "Renamed", "Person")
	require.NoError(t, err)
	list, err := e.comments.ListComments(ctx, u.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, u.DisplayName(), list[0].AuthorName)
}

func TestCommentService_EditComment(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	author := e.user(t)
	other := e.user(t)
	post := e.post(t, author)
	c, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: author.ID, Text: "draft"})
	require.NoError(t, err)

	_, err = e.comments.EditComment(ctx, EditCommentInput{CommentID: c.ID, UserID: other.ID, Text: "hijack"})
	assertUnauthorizedError(t, err)
	_, err = e.comments.EditComment(ctx, EditCommentInput{CommentID: c.ID, UserID: author.ID, Text: " "})
	assertValidationError(t, err)

	updated, err := e.comments.EditComment(ctx, EditCommentInput{CommentID: c.ID, UserID: author.ID, Text: "final"})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Text)
	require.NotNil(t, updated.EditedAt)

	counter, _ := e.commentCount(t, post.ID)
	assert.Equal(t, 1, counter)
}

func TestCommentService_DeletePermissions(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	author := e.user(t)
	other := e.user(t, testutil.WithRole(models.RoleTeacher))
	admin := e.user(t, testutil.WithRole(models.RoleAdmin))
	post := e.post(t, author)
	c, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: author.ID, Text: "mine"})
	require.NoError(t, err)

	_, err = e.comments.DeleteComment(ctx, DeleteCommentInput{CommentID: c.ID, UserID: other.ID})
	assertUnauthorizedError(t, err)

	_, err = e.comments.DeleteComment(ctx, DeleteCommentInput{CommentID: c.ID, UserID: admin.ID})
	require.NoError(t, err)

	_, err = e.comments.DeleteComment(ctx, DeleteCommentInput{CommentID: c.ID, UserID: admin.ID})
	assertNotFoundError(t, err)
}

func TestCommentService_Thread(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	a, err := e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "a"})
	require.NoError(t, err)
	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "b"})
	require.NoError(t, err)
	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "a1", ParentID: uintPtr(a.ID)})
	require.NoError(t, err)

	flat, err := e.comments.ListComments(ctx, u.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a1"}, []string{flat[0].Text, flat[1].Text, flat[2].Text})

	thread, err := e.comments.Thread(ctx, u.ID, post.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	require.Len(t, thread[0].Replies, 1)
	assert.Equal(t, "a1", thread[0].Replies[0].Text)
	assert.Empty(t, thread[1].Replies)
}

func TestCommentService_SubscribeToThread(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	u := e.user(t)
	post := e.post(t, u)

	got := make(chan ThreadSnapshot, 8)
	sub, err := e.comments.SubscribeToThread(ctx, u.ID, post.ID, func(s ThreadSnapshot) { got <- s }, fastBackoff())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Empty(t, next(t, got).Data)

	_, err = e.comments.PostComment(ctx, PostCommentInput{PostID: post.ID, UserID: u.ID, Text: "live"})
	require.NoError(t, err)
	snap := next(t, got)
	require.Len(t, snap.Data, 1)
	assert.Equal(t, "live", snap.Data[0].Text)

	_, err = e.feed.DeletePost(ctx, DeletePostInput{PostID: post.ID, UserID: u.ID})
	require.NoError(t, err)
	waitDone(t, sub)
	assertNotFoundError(t, sub.Err())
}
