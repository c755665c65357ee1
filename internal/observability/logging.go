// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// GlobalLogger is the default logger for repository and live-channel events.
var GlobalLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLogger replaces GlobalLogger, typically with middleware.Logger so that
// request context attributes are attached.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = l
	}
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableLiveLogging bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: true,
	EnableLiveLogging: true,
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	table string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table}
}

func (l *RepoLogger) log(ctx context.Context, level slog.Level, msg, operation string, fields map[string]any) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, slog.String("table", l.table), slog.String("operation", operation))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.Log(ctx, level, msg, attrs...)
}

func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]any) {
	l.log(ctx, slog.LevelDebug, "repository create", "create", fields)
}

func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]any) {
	l.log(ctx, slog.LevelDebug, "repository update", "update", fields)
}

// LogDelete is logged at info level; deletes cascade and are worth auditing.
func (l *RepoLogger) LogDelete(ctx context.Context, fields map[string]any) {
	l.log(ctx, slog.LevelInfo, "repository delete", "delete", fields)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	l.log(ctx, slog.LevelError, "repository error", operation, map[string]any{"error": err.Error()})
}

// LiveLogger logs live subscription and websocket lifecycle events.
type LiveLogger struct {
	component string
}

// NewLiveLogger creates a LiveLogger for the named component.
func NewLiveLogger(component string) *LiveLogger {
	return &LiveLogger{component: component}
}

// Lifecycle logs a subscription event such as subscribe, reconnect, or stale.
func (l *LiveLogger) Lifecycle(ctx context.Context, event, topic string, fields map[string]any) {
	if !Config.EnableLiveLogging {
		return
	}
	attrs := []any{
		slog.String("component", l.component),
		slog.String("event", event),
		slog.String("topic", topic),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "live lifecycle", attrs...)
}

// Error logs a live-channel error.
func (l *LiveLogger) Error(ctx context.Context, topic string, err error) {
	if !Config.EnableLiveLogging {
		return
	}
	GlobalLogger.ErrorContext(ctx, "live error",
		slog.String("component", l.component),
		slog.String("topic", topic),
		slog.String("error", err.Error()),
	)
}
