package agent

import "context"

// Correlation IDs threaded through a turn's context so that logging and
// tool dispatch can tag every line with the run/session/tool-call it
// belongs to, without passing them as explicit parameters everywhere.

type correlationKey int

const (
	runIDKey correlationKey = iota
	sessionIDKey
	toolCallIDKey
)

// WithRunID attaches a run id to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithSessionID attaches a session id to ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// AddToolCallID attaches a tool-call id to ctx.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, toolCallID)
}

// GetRunID returns the run id stored in ctx, or "" if none.
func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// GetSessionID returns the session id stored in ctx, or "" if none.
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// GetToolCallID returns the tool-call id stored in ctx, or "" if none.
func GetToolCallID(ctx context.Context) string {
	v, _ := ctx.Value(toolCallIDKey).(string)
	return v
}
