package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoLogger_WritesTableAndOperation(t *testing.T) {
	var buf bytes.Buffer
	prev := GlobalLogger
	t.Cleanup(func() { GlobalLogger = prev })
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	NewRepoLogger("posts").LogError(context.Background(), errors.New("boom"), "delete")

	out := buf.String()
	assert.Contains(t, out, `"table":"posts"`)
	assert.Contains(t, out, `"operation":"delete"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestRepoLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	prev, prevCfg := GlobalLogger, Config
	t.Cleanup(func() { GlobalLogger, Config = prev, prevCfg })
	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	Config.EnableRepoLogging = false

	NewRepoLogger("posts").LogDelete(context.Background(), map[string]any{"id": 1})
	assert.Empty(t, buf.String())
}

func TestTrackQuery_ObservesLatency(t *testing.T) {
	before := testutil.CollectAndCount(DatabaseQueryLatency)
	TrackQuery("select", "observability_test")()
	assert.Equal(t, before+1, testutil.CollectAndCount(DatabaseQueryLatency))
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	span, ctx := NewSpan(context.Background(), "test.op")
	assert.NotNil(t, ctx)
	var opErr error = errors.New("failed")
	span.Finish(&opErr)
}
