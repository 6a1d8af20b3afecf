// Package logging carries correlation IDs through contexts and into slog
// records.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey int

const (
	workspaceIDKey ctxKey = iota
	runIDKey
	stepIDKey
	automationIDKey
)

// WithWorkspaceID returns a context carrying the workspace ID.
func WithWorkspaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, id)
}

// WithRunID returns a context carrying the run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithStepID returns a context carrying the step ID.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// WithAutomationID returns a context carrying the automation ID.
func WithAutomationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, automationIDKey, id)
}

func fromContext(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// CorrelationHandler decorates every record with the correlation IDs found in
// its context.
type CorrelationHandler struct {
	slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{Handler: inner}
}

func (h *CorrelationHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, pair := range []struct {
		key  ctxKey
		name string
	}{
		{workspaceIDKey, "workspace_id"},
		{automationIDKey, "automation_id"},
		{runIDKey, "run_id"},
		{stepIDKey, "step_id"},
	} {
		if v := fromContext(ctx, pair.key); v != "" {
			record.AddAttrs(slog.String(pair.name, v))
		}
	}
	return h.Handler.Handle(ctx, record)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{Handler: h.Handler.WithGroup(name)}
}

// New builds the process logger: JSON to stderr at the given level, wrapped
// with correlation.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(NewCorrelationHandler(inner))
}
