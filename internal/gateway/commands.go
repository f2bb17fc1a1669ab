package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/talon-ai/talon/pkg/models"
)

// maybeHandleCommand is the hook point for a slash-command surface. Chat
// slash commands are out of scope for this gateway: administrative actions
// (session reset, config reload, shutdown) are exposed exclusively through
// the /ws control plane, not through channel messages.
func (s *Server) maybeHandleCommand(ctx context.Context, session *models.Session, msg *models.Message) bool {
	return false
}

// maybeHandleInlineCommands mirrors maybeHandleCommand for inline (mid-message)
// command syntax. Also out of scope; see maybeHandleCommand.
func (s *Server) maybeHandleInlineCommands(ctx context.Context, session *models.Session, msg *models.Message) bool {
	return false
}

// sessionModelOverride returns a per-session model override set via the /ws
// control plane, or "" if the session should use the router's default model.
func sessionModelOverride(session *models.Session) string {
	if session == nil || session.Metadata == nil {
		return ""
	}
	if value, ok := session.Metadata["model"].(string); ok {
		return strings.TrimSpace(value)
	}
	if value, ok := session.Metadata["model_override"].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// activeRun tracks the cancellation function for an in-flight agent run on a
// session, letting an admin.reset control-plane command abort it.
type activeRun struct {
	token  string
	cancel context.CancelFunc
}

// registerActiveRun records the cancel func for a newly started run, pre-empting
// any prior run still in flight for the same session (one run per session key).
func (s *Server) registerActiveRun(sessionID string, cancel context.CancelFunc) string {
	if s == nil || sessionID == "" || cancel == nil {
		return ""
	}
	token := uuid.NewString()
	s.activeRunsMu.Lock()
	defer s.activeRunsMu.Unlock()
	if s.activeRuns == nil {
		s.activeRuns = make(map[string]activeRun)
	}
	if existing, ok := s.activeRuns[sessionID]; ok && existing.cancel != nil {
		existing.cancel()
	}
	s.activeRuns[sessionID] = activeRun{token: token, cancel: cancel}
	return token
}

// finishActiveRun clears the active-run record for a session, but only if the
// token still matches — a superseded run's deferred cleanup must not clobber
// the record of the run that replaced it.
func (s *Server) finishActiveRun(sessionID, token string) {
	if s == nil || sessionID == "" || token == "" {
		return
	}
	s.activeRunsMu.Lock()
	defer s.activeRunsMu.Unlock()
	if s.activeRuns == nil {
		return
	}
	if current, ok := s.activeRuns[sessionID]; ok && current.token == token {
		delete(s.activeRuns, sessionID)
	}
}

// cancelActiveRun aborts the in-flight run for a session, if any. Used by the
// /ws control plane's admin.reset handler.
func (s *Server) cancelActiveRun(sessionID string) bool {
	if s == nil || sessionID == "" {
		return false
	}
	s.activeRunsMu.Lock()
	if s.activeRuns == nil {
		s.activeRunsMu.Unlock()
		return false
	}
	run, ok := s.activeRuns[sessionID]
	if ok {
		delete(s.activeRuns, sessionID)
	}
	s.activeRunsMu.Unlock()
	if !ok || run.cancel == nil {
		return false
	}
	run.cancel()
	return true
}

// hasActiveRun reports whether a session currently has an in-flight run.
func (s *Server) hasActiveRun(sessionID string) bool {
	if s == nil || sessionID == "" {
		return false
	}
	s.activeRunsMu.Lock()
	if s.activeRuns == nil {
		s.activeRunsMu.Unlock()
		return false
	}
	_, ok := s.activeRuns[sessionID]
	s.activeRunsMu.Unlock()
	return ok
}
