// Package gateway provides the main Talon gateway server.
//
// message_service.go implements direct (non-LLM) message dispatch: proactive
// sends triggered by internal components (cron jobs, admin commands) rather
// than by an agent turn.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talon-ai/talon/pkg/models"
)

// SendProactiveMessage is a helper function for internal use to send a proactive message.
// This is useful for cron jobs and other internal components.
func (s *Server) SendProactiveMessage(ctx context.Context, channel models.ChannelType, peerID, content string) error {
	adapter, ok := s.channels.GetOutbound(channel)
	if !ok {
		return fmt.Errorf("channel %s not found or doesn't support outbound messages", channel)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChannelID: peerID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
	}

	return adapter.Send(ctx, msg)
}
