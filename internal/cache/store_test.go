package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedUser struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestStore_SetGetInvalidate(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, UserKey(7), cachedUser{ID: 7, Name: "Ada"}, UserTTL))
	assert.True(t, mr.Exists("user:7"))
	assert.Equal(t, UserTTL, mr.TTL("user:7"))

	var got cachedUser
	found, err := s.GetJSON(ctx, UserKey(7), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ada", got.Name)

	require.NoError(t, s.Invalidate(ctx, UserKey(7)))
	found, err = s.GetJSON(ctx, UserKey(7), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Expiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, UserKey(1), cachedUser{ID: 1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var got cachedUser
	found, err := s.GetJSON(ctx, UserKey(1), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetManyJSON_SkipsMissesAndGarbage(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, UserKey(1), cachedUser{ID: 1, Name: "one"}, UserTTL))
	require.NoError(t, mr.Set(UserKey(3), "{not json"))

	got, err := GetManyJSON[cachedUser](ctx, s, []string{UserKey(1), UserKey(2), UserKey(3)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Name)
}

func TestStore_NilClientIsNoop(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	assert.False(t, s.Enabled())
	assert.NoError(t, s.SetJSON(ctx, "k", 1, time.Minute))
	var v int
	found, err := s.GetJSON(ctx, "k", &v)
	assert.NoError(t, err)
	assert.False(t, found)
	got, err := GetManyJSON[int](ctx, s, []string{"k"})
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "redis://%zz")
	assert.Error(t, err)
}
