package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talon-ai/talon/internal/config"
	"github.com/talon-ai/talon/internal/eventbus"
)

// ManagedServerConfig configures a gateway server managed end-to-end via
// Start/Stop, including the singleton lock and config path used to derive it.
type ManagedServerConfig struct {
	Config     *config.Config
	Logger     *slog.Logger
	ConfigPath string
}

// NewManagedServer constructs a gateway server ready for Start. Construction
// itself does no I/O beyond building adapter instances; network listeners and
// background goroutines only start in Start.
func NewManagedServer(cfg ManagedServerConfig) (*Server, error) {
	return newServer(cfg.Config, cfg.Logger, cfg.ConfigPath)
}

// Start is the C9 boot sequence: acquire the singleton lock, start every
// subsystem manager in dependency order, then start accepting inbound
// messages and HTTP/WS connections. Start is idempotent — calling it twice
// on an already-started server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	if s.lock != nil {
		return nil
	}

	lock, err := AcquireEnhancedGatewayLock(LockOptions{
		StateDir:   s.config.Workspace.Path,
		ConfigPath: s.configPath,
	})
	if err != nil {
		return fmt.Errorf("acquire gateway lock: %w", err)
	}
	s.lock = lock

	// The scheduler's task executor needs the agentic loop and session store
	// before Managers.StartAll reaches it; build the runtime first (Start is
	// idempotent, so Managers.StartAll's own call to Runtime.Start is a no-op).
	if err := s.managers.Runtime.Start(ctx); err != nil {
		_ = s.lock.Release()
		s.lock = nil
		return fmt.Errorf("start runtime manager: %w", err)
	}
	loop, err := s.managers.Runtime.Loop(ctx)
	if err != nil {
		_ = s.lock.Release()
		s.lock = nil
		return fmt.Errorf("build agentic loop: %w", err)
	}
	s.managers.Scheduler.SetLoop(loop)
	s.managers.Scheduler.SetSessions(s.managers.Runtime.Sessions())

	if err := s.managers.StartAll(ctx); err != nil {
		_ = s.lock.Release()
		s.lock = nil
		return fmt.Errorf("start managers: %w", err)
	}

	s.sessions = s.managers.Runtime.Sessions()
	s.memoryLogger = s.managers.Runtime.MemoryLogger()
	s.approvalChecker = s.managers.Runtime.ApprovalChecker()

	s.subscribeEventBus()
	s.startProcessing(ctx)

	if err := s.startHTTPServer(ctx); err != nil {
		_ = s.managers.StopAll(ctx)
		_ = s.lock.Release()
		s.lock = nil
		return fmt.Errorf("start http server: %w", err)
	}

	s.logger.Info("gateway started",
		"http_port", s.config.Server.HTTPPort,
	)
	return nil
}

// Stop is the C9 shutdown sequence, run in the reverse order of Start: stop
// accepting new HTTP/WS connections, drain in-flight message processing,
// stop every subsystem manager, publish a final shutdown event, then release
// the singleton lock.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.stopHTTPServer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.waitForProcessing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for processing: %w", err))
	}
	if s.managers != nil {
		if err := s.managers.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop managers: %w", err))
		}
	}
	if s.eventBus != nil {
		s.eventBus.Shutdown(ctx)
	}

	if s.lock != nil {
		if err := s.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		s.lock = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("gateway stopped")
	return nil
}

// subscribeEventBus re-publishes session and agent lifecycle events onto the
// /ws control plane so connected admin clients observe them without polling.
func (s *Server) subscribeEventBus() {
	if s.eventBus == nil || s.wsControl == nil {
		return
	}
	forward := func(event string) eventbus.Handler {
		return func(_ context.Context, e eventbus.Event) {
			s.wsControl.broadcastEvent("session.event", map[string]any{
				"kind":    event,
				"payload": e.Payload,
			})
		}
	}
	_ = s.eventBus.Subscribe(eventbus.TopicSessionCreated, forward("session.created")) //nolint:errcheck
	_ = s.eventBus.Subscribe(eventbus.TopicSessionReset, forward("session.reset"))     //nolint:errcheck
	_ = s.eventBus.Subscribe(eventbus.TopicAgentDone, forward("agent.done"))           //nolint:errcheck
	_ = s.eventBus.Subscribe(eventbus.TopicAgentError, forward("agent.error"))         //nolint:errcheck
}
