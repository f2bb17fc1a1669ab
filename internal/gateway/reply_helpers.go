package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/talon-ai/talon/pkg/models"
)

const (
	silentReplyToken = "NO_REPLY"
	heartbeatOKToken = "HEARTBEAT_OK"
)

// normalizeReplyContent strips the model's silent-reply or heartbeat-ack
// tokens from its own response. These let the model decline to send a
// visible reply (e.g. to a heartbeat check) without the channel adapter
// having to parse free-form text.
func normalizeReplyContent(content string) (string, bool, string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == silentReplyToken || strings.HasPrefix(trimmed, silentReplyToken+" ") {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, silentReplyToken))
		if rest == "" {
			return "", true, "silent_reply"
		}
		return rest, false, ""
	}
	if trimmed == heartbeatOKToken || strings.HasPrefix(trimmed, heartbeatOKToken+" ") {
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, heartbeatOKToken))
		if rest == "" {
			return "", true, "heartbeat"
		}
		return rest, false, ""
	}
	return content, false, ""
}

func (s *Server) confirmMemoryFlush(ctx context.Context, session *models.Session) {
	if s == nil || s.sessions == nil || session == nil || session.Metadata == nil {
		return
	}
	if pending, ok := session.Metadata["memory_flush_pending"].(bool); ok && pending {
		session.Metadata["memory_flush_pending"] = false
		session.Metadata["memory_flush_confirmed_at"] = time.Now().Format(time.RFC3339)
		if err := s.sessions.Update(ctx, session); err != nil && s.logger != nil {
			s.logger.Warn("failed to update session metadata", "error", err)
		}
	}
}
