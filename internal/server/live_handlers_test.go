package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	frames chan liveFrame
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{frames: make(chan liveFrame, 64)}
}

func (r *frameRecorder) WriteJSON(v interface{}) error {
	r.frames <- v.(liveFrame)
	return nil
}

func (r *frameRecorder) next(t *testing.T) liveFrame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a live frame")
		return liveFrame{}
	}
}

// until skips frames that do not match.
func (r *frameRecorder) until(t *testing.T, match func(liveFrame) bool) liveFrame {
	t.Helper()
	for {
		if f := r.next(t); match(f) {
			return f
		}
	}
}

func (ts *testServer) session(t *testing.T, userID uint) (*liveSession, *frameRecorder) {
	t.Helper()
	rec := newFrameRecorder()
	ls := ts.srv.newLiveSession(context.Background(), userID, rec)
	t.Cleanup(ls.close)
	return ls, rec
}

func watchFrame(topic string, id uint) []byte {
	return []byte(fmt.Sprintf(`{"action":"watch","topic":%q,"id":%d}`, topic, id))
}

func TestLiveHandler_Upgrade(t *testing.T) {
	ts := newTestServer(t, "")
	u := ts.user(t)

	status, _ := ts.do(t, http.MethodGet, "/ws/live", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.do(t, http.MethodGet, "/ws/live", u.ID, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestLiveSession_WatchThread(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, "")
	author := ts.user(t)
	post := ts.post(t, author)
	ls, rec := ts.session(t, author.ID)

	ls.handle(watchFrame(topicThread, post.ID))
	first := rec.next(t)
	require.Equal(t, frameSnapshot, first.Type)
	assert.Equal(t, topicThread, first.Topic)
	assert.Equal(t, post.ID, first.ID)
	assert.Empty(t, first.Data.([]*models.Comment))

	_, err := ts.srv.commentService.PostComment(ctx, service.PostCommentInput{PostID: post.ID, UserID: author.ID, Text: "hi"})
	require.NoError(t, err)

	second := rec.next(t)
	require.Equal(t, frameSnapshot, second.Type)
	assert.Greater(t, second.Revision, first.Revision)
	assert.Len(t, second.Data.([]*models.Comment), 1)

	ls.handle([]byte(fmt.Sprintf(`{"action":"unwatch","topic":"thread","id":%d}`, post.ID)))
	assert.Equal(t, frameUnwatched, rec.next(t).Type)
	assert.Zero(t, ls.watching())

	broker := ts.srv.broker.(*notifications.MemoryBroker)
	assert.Zero(t, broker.Subscribers(notifications.ThreadChannel(post.ID)))
}

func TestLiveSession_ThreadEndsWhenPostDeleted(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, "")
	author := ts.user(t)
	post := ts.post(t, author)
	ls, rec := ts.session(t, author.ID)

	ls.handle(watchFrame(topicThread, post.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)

	_, err := ts.srv.feedService.DeletePost(ctx, service.DeletePostInput{PostID: post.ID, UserID: author.ID})
	require.NoError(t, err)

	ended := rec.until(t, func(f liveFrame) bool { return f.Type != frameSnapshot })
	assert.Equal(t, frameEnded, ended.Type)
	assert.Equal(t, models.CodeNotFound, ended.Code)
	assert.Zero(t, ls.watching())
}

func TestLiveSession_CommentReactionsEndWhenCommentDeleted(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, "")
	author := ts.user(t)
	post := ts.post(t, author)
	c, err := ts.srv.commentService.PostComment(ctx, service.PostCommentInput{PostID: post.ID, UserID: author.ID, Text: "hi"})
	require.NoError(t, err)
	ls, rec := ts.session(t, author.ID)

	ls.handle(watchFrame(topicCommentReactions, c.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)

	_, err = ts.srv.commentService.DeleteComment(ctx, service.DeleteCommentInput{CommentID: c.ID, UserID: author.ID})
	require.NoError(t, err)

	ended := rec.until(t, func(f liveFrame) bool { return f.Type != frameSnapshot })
	assert.Equal(t, frameEnded, ended.Type)
	assert.Equal(t, models.CodeNotFound, ended.Code)
}

func TestLiveSession_WatchReactions(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, "")
	author := ts.user(t)
	fan := ts.user(t)
	post := ts.post(t, author)
	ls, rec := ts.session(t, fan.ID)

	ls.handle(watchFrame(topicPostReactions, post.ID))
	first := rec.next(t)
	require.Equal(t, frameSnapshot, first.Type)
	assert.Empty(t, first.Data.(map[uint]models.ReactionKind))

	_, err := ts.srv.reactions.SetReaction(ctx, models.PostSubject(post.ID), fan.ID, models.ReactionWow)
	require.NoError(t, err)

	second := rec.next(t)
	assert.Equal(t, map[uint]models.ReactionKind{fan.ID: models.ReactionWow}, second.Data)
}

func TestLiveSession_WatchFeed(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, "")
	author := ts.user(t)
	ts.post(t, author)
	ls, rec := ts.session(t, author.ID)

	ls.handle([]byte(`{"action":"watch","topic":"feed","limit":10}`))
	first := rec.next(t)
	require.Equal(t, frameSnapshot, first.Type)
	assert.Len(t, first.Data.([]*models.Post), 1)

	_, err := ts.srv.feedService.CreatePost(ctx, service.CreatePostInput{AuthorID: author.ID, Content: "second"})
	require.NoError(t, err)

	second := rec.next(t)
	assert.Len(t, second.Data.([]*models.Post), 2)
	assert.Equal(t, first.Revision+1, second.Revision)
}

func TestLiveSession_Rejections(t *testing.T) {
	ts := newTestServer(t, "")
	author := ts.user(t)
	viewer := ts.user(t)
	hidden := ts.post(t, author, private)
	ls, rec := ts.session(t, viewer.ID)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"Not JSON", `hello`, models.CodeValidation},
		{"Unknown Action", `{"action":"shout","topic":"feed"}`, models.CodeValidation},
		{"Unknown Topic", `{"action":"watch","topic":"chat","id":1}`, models.CodeValidation},
		{"Missing ID", `{"action":"watch","topic":"thread"}`, models.CodeValidation},
		{"Hidden Thread", string(watchFrame(topicThread, hidden.ID)), models.CodeNotFound},
		{"Hidden Reactions", string(watchFrame(topicPostReactions, hidden.ID)), models.CodeNotFound},
		{"Missing Comment", string(watchFrame(topicCommentReactions, 999)), models.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls.handle([]byte(tt.frame))
			f := rec.next(t)
			assert.Equal(t, frameError, f.Type)
			assert.Equal(t, tt.code, f.Code)
		})
	}
	assert.Zero(t, ls.watching())
}

func TestLiveSession_StaleStatus(t *testing.T) {
	ts := newTestServer(t, "")
	author := ts.user(t)
	post := ts.post(t, author)
	ls, rec := ts.session(t, author.ID)
	broker := ts.srv.broker.(*notifications.MemoryBroker)

	ls.handle(watchFrame(topicThread, post.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)

	broker.SetAvailable(false)
	stale := rec.until(t, func(f liveFrame) bool { return f.Type == frameStatus })
	require.NotNil(t, stale.Stale)
	assert.True(t, *stale.Stale)

	broker.SetAvailable(true)
	recovered := rec.until(t, func(f liveFrame) bool { return f.Type == frameStatus })
	require.NotNil(t, recovered.Stale)
	assert.False(t, *recovered.Stale)
}

func TestLiveSession_CloseReleasesSubscriptions(t *testing.T) {
	ts := newTestServer(t, "")
	author := ts.user(t)
	post := ts.post(t, author)
	rec := newFrameRecorder()
	ls := ts.srv.newLiveSession(context.Background(), author.ID, rec)
	broker := ts.srv.broker.(*notifications.MemoryBroker)
	other, _ := ts.session(t, author.ID)
	assert.NotEqual(t, ls.id, other.id)

	ls.handle(watchFrame(topicThread, post.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)
	ls.handle(watchFrame(topicPostReactions, post.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)
	// Watching the same key again replaces the subscription.
	ls.handle(watchFrame(topicThread, post.ID))
	require.Equal(t, frameSnapshot, rec.next(t).Type)
	assert.Equal(t, 2, ls.watching())
	assert.Equal(t, 1, broker.Subscribers(notifications.ThreadChannel(post.ID)))

	ls.close()
	assert.Zero(t, ls.watching())
	assert.Zero(t, broker.Subscribers(notifications.ThreadChannel(post.ID)))
	assert.Zero(t, broker.Subscribers(notifications.ReactionsChannel(models.PostSubject(post.ID))))
}
