package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"campusfeed/internal/config"
	"campusfeed/internal/middleware"
	"campusfeed/internal/models"
	"campusfeed/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type testServer struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
}

func newTestServer(t *testing.T, flags string) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{
		JWTSecret:              testSecret,
		Port:                   "0",
		Env:                    "test",
		AllowedOrigins:         "http://localhost:5173",
		FeatureFlags:           flags,
		TxMaxAttempts:          3,
		SubscriptionStaleAfter: 2,
	}
	srv, err := NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(srv.shutdownFn)
	return &testServer{srv: srv, app: srv.App(), db: db}
}

func (ts *testServer) user(t *testing.T, opts ...testutil.UserOption) *models.User {
	t.Helper()
	return testutil.CreateUser(t, ts.db, opts...)
}

func (ts *testServer) post(t *testing.T, author *models.User, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	return testutil.CreatePost(t, ts.db, author, mutate...)
}

// do sends a request as userID (0 means anonymous) and returns the status and body.
func (ts *testServer) do(t *testing.T, method, path string, userID uint, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		token, err := middleware.IssueToken(testSecret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	return decode[models.ErrorResponse](t, raw).Code
}

func private(p *models.Post) { p.Audience = models.AudiencePrivate }

func announcement(p *models.Post) { p.PostType = models.PostTypeAnnouncement }
