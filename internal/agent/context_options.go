package agent

import (
	"context"

	"github.com/talon-ai/talon/internal/toolpolicy"
	"github.com/talon-ai/talon/pkg/models"
)

const (
	// processBufferSize sizes the ResponseChunk channel returned by Run so a
	// burst of streamed text/tool events doesn't block the producing goroutine.
	processBufferSize = 64

	// maxConcurrentJobs caps async tool jobs in flight per loop instance.
	maxConcurrentJobs = 8

	// MaxResponseTextSize bounds accumulated assistant text per iteration.
	MaxResponseTextSize = 1 << 20 // 1 MiB

	// MaxToolCallsPerIteration bounds tool calls requested in a single LLM turn.
	MaxToolCallsPerIteration = 32
)

// Per-request overrides threaded through context so callers (the gateway's
// message pipeline, scheduled task executor, tests) can customize a single
// AgenticLoop.Run/AgenticRuntime.Process call without widening its signature.

// ElevatedMode controls whether a request may bypass normal tool approval
// gating for tools matched by LoopConfig.ElevatedTools.
type ElevatedMode int

const (
	// ElevatedNone applies standard approval policy to every tool call.
	ElevatedNone ElevatedMode = iota
	// ElevatedFull allows elevated-eligible tools to bypass approval.
	ElevatedFull
)

type optionsContextKey int

const (
	systemPromptContextKey optionsContextKey = iota
	modelContextKey
	elevatedContextKey
	toolPolicyContextKey
	runtimeOptionsContextKey
	sessionContextKey
)

type toolPolicyContextValue struct {
	resolver *toolpolicy.Resolver
	policy   *toolpolicy.Policy
}

// WithSystemPrompt overrides the system prompt for this request only.
func WithSystemPrompt(ctx context.Context, system string) context.Context {
	return context.WithValue(ctx, systemPromptContextKey, system)
}

func systemPromptFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(systemPromptContextKey).(string)
	return v, ok
}

// WithModel overrides the model name for this request only.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelContextKey, model)
}

func modelFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(modelContextKey).(string)
	return v, ok
}

// WithElevated sets the elevated tool-approval mode for this request.
func WithElevated(ctx context.Context, mode ElevatedMode) context.Context {
	return context.WithValue(ctx, elevatedContextKey, mode)
}

// ElevatedFromContext returns the elevated mode set on ctx, defaulting to
// ElevatedNone.
func ElevatedFromContext(ctx context.Context) ElevatedMode {
	mode, _ := ctx.Value(elevatedContextKey).(ElevatedMode)
	return mode
}

// WithToolPolicy scopes tool visibility and execution to the given policy,
// resolved through resolver (which expands tool groups and MCP aliases).
func WithToolPolicy(ctx context.Context, resolver *toolpolicy.Resolver, policy *toolpolicy.Policy) context.Context {
	return context.WithValue(ctx, toolPolicyContextKey, toolPolicyContextValue{resolver: resolver, policy: policy})
}

func toolPolicyFromContext(ctx context.Context) (*toolpolicy.Resolver, *toolpolicy.Policy, bool) {
	v, ok := ctx.Value(toolPolicyContextKey).(toolPolicyContextValue)
	if !ok || v.resolver == nil || v.policy == nil {
		return nil, nil, false
	}
	return v.resolver, v.policy, true
}

// WithRuntimeOptions overrides per-request runtime options (iteration
// limits, tool concurrency, approval checker). Unset fields fall back to
// the loop's configured defaults.
func WithRuntimeOptions(ctx context.Context, opts RuntimeOptions) context.Context {
	return context.WithValue(ctx, runtimeOptionsContextKey, opts)
}

func runtimeOptionsFromContext(ctx context.Context) (RuntimeOptions, bool) {
	v, ok := ctx.Value(runtimeOptionsContextKey).(RuntimeOptions)
	return v, ok
}

// WithSession attaches the active session to ctx so tools and compaction
// logic can recover it without it being threaded through every call.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionContextKey).(*models.Session)
	return session
}
