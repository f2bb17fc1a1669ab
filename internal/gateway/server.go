// Package gateway provides the main Talon gateway server.
//
// server.go contains the core Server struct definition and constructor.
// Related functionality is organized in separate files:
//   - lifecycle.go: server startup, shutdown, and the singleton lock
//   - processing.go: message processing and the agentic delivery pipeline
//   - http_server.go: the HTTP surface (health, sessions, metrics, /ws)
//   - ws_control_plane.go: the /ws admin control plane
//   - helpers.go, system_prompt_loader.go, access_policy.go: supporting logic
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/talon-ai/talon/internal/agent"
	"github.com/talon-ai/talon/internal/auth"
	"github.com/talon-ai/talon/internal/channels"
	"github.com/talon-ai/talon/internal/channels/discord"
	"github.com/talon-ai/talon/internal/channels/slack"
	"github.com/talon-ai/talon/internal/channels/telegram"
	"github.com/talon-ai/talon/internal/config"
	"github.com/talon-ai/talon/internal/eventbus"
	"github.com/talon-ai/talon/internal/gateway/managers"
	"github.com/talon-ai/talon/internal/jobs"
	"github.com/talon-ai/talon/internal/sessions"
	"github.com/talon-ai/talon/internal/toolpolicy"
	"github.com/talon-ai/talon/pkg/models"
)

// Server is the Talon gateway: the session/routing layer that aggregates
// inbound channel messages, drives them through the agentic loop, and
// delivers responses back out, alongside the HTTP health/sessions surface
// and the /ws admin control plane.
type Server struct {
	config     *config.Config
	configPath string
	logger     *slog.Logger
	startTime  time.Time

	channels    *channels.Registry
	authService *auth.Service
	eventBus    *eventbus.Bus

	managers *managers.Managers
	lock     *LockHandle

	sessions           sessions.Store
	memoryLogger       *sessions.MemoryLogger
	toolPolicyResolver *toolpolicy.Resolver
	approvalChecker    *agent.ApprovalChecker

	runtimeMu sync.Mutex
	runtime   runtimeProcessor

	activeRuns   map[string]activeRun
	activeRunsMu sync.Mutex

	messageSem chan struct{}
	normalizer *MessageNormalizer

	handleMessageHook func(context.Context, *models.Message)

	wg     sync.WaitGroup
	cancel context.CancelFunc

	wsControl    *wsControlPlane
	httpServer   *http.Server
	httpListener net.Listener
}

// runtimeProcessor is the minimal surface server.go and its callers need from
// the agentic runtime: drive one turn and stream back response chunks.
type runtimeProcessor interface {
	Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
}

// loopRuntime adapts *agent.AgenticLoop (method name Run) to the
// runtimeProcessor interface (method name Process) that processing.go and
// the /ws control plane call through.
type loopRuntime struct {
	loop *agent.AgenticLoop
}

func (r loopRuntime) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error) {
	return r.loop.Run(ctx, session, msg)
}

// NewServer builds a gateway server and its subsystem managers from config,
// but does not start anything — call Start (lifecycle.go) to bring it up.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return NewManagedServer(ManagedServerConfig{Config: cfg, Logger: logger})
}

// newServer is the shared constructor behind NewServer/NewManagedServer: it
// wires the subsystem managers together but performs no I/O.
func newServer(cfg *config.Config, logger *slog.Logger, configPath string) (*Server, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, entry := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{
			Key:    entry.Key,
			UserID: entry.UserID,
			Email:  entry.Email,
			Name:   entry.Name,
		})
	}
	authService := auth.NewService(auth.Config{
		Mode:        cfg.Auth.Mode,
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys,
		Password:    cfg.Auth.Password,
	})

	toolingManager := managers.NewToolingManager(managers.ToolingManagerConfig{
		Config: cfg,
		Logger: logger,
	})

	runtimeManager := managers.NewRuntimeManager(managers.RuntimeManagerConfig{
		Config:       cfg,
		Logger:       logger,
		ToolRegistry: toolingManager.Registry(),
	})

	channelManager := managers.NewChannelManager(managers.ChannelManagerConfig{
		Config: cfg,
		Logger: logger,
	})
	if err := registerChannelAdapters(cfg, channelManager.Registry(), logger); err != nil {
		return nil, fmt.Errorf("register channel adapters: %w", err)
	}

	schedulerManager, err := managers.NewSchedulerManager(managers.SchedulerManagerConfig{
		Config:   cfg,
		Logger:   logger,
		JobStore: jobs.NewMemoryStore(),
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler manager: %w", err)
	}

	server := &Server{
		config:             cfg,
		configPath:         configPath,
		logger:             logger,
		startTime:          time.Now(),
		channels:           channelManager.Registry(),
		authService:        authService,
		eventBus:           eventbus.New(logger),
		toolPolicyResolver: toolingManager.PolicyResolver(),
		activeRuns:         make(map[string]activeRun),
		messageSem:         make(chan struct{}, 100),
		normalizer:         NewMessageNormalizer(),
		managers: &managers.Managers{
			Runtime:   runtimeManager,
			Channel:   channelManager,
			Scheduler: schedulerManager,
			Tooling:   toolingManager,
		},
	}
	server.wsControl = server.newWSControlPlane()
	return server, nil
}

// registerChannelAdapters constructs and registers a channel.Adapter for
// every channel enabled in config. Only telegram, discord, and slack have
// adapter implementations; other configured-but-unimplemented channels are
// logged and skipped rather than failing startup.
func registerChannelAdapters(cfg *config.Config, registry *channels.Registry, logger *slog.Logger) error {
	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token: cfg.Channels.Telegram.BotToken,
			Mode:  telegram.ModeLongPolling,
		})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:  cfg.Channels.Discord.BotToken,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Slack.Enabled {
		adapter := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
		})
		registry.Register(adapter)
	}
	return nil
}

// ensureRuntime returns the agentic runtime, constructing it from the
// runtime manager's provider chain on first use.
func (s *Server) ensureRuntime(ctx context.Context) (runtimeProcessor, error) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	if s.runtime != nil {
		return s.runtime, nil
	}
	if s.managers == nil || s.managers.Runtime == nil {
		return nil, errors.New("runtime manager not configured")
	}
	loop, err := s.managers.Runtime.Loop(ctx)
	if err != nil {
		return nil, err
	}
	s.runtime = loopRuntime{loop: loop}
	return s.runtime, nil
}

// Channels returns the channel registry for accessing registered adapters.
func (s *Server) Channels() *channels.Registry {
	return s.channels
}

// Normalizer returns the message normalizer.
func (s *Server) Normalizer() *MessageNormalizer {
	return s.normalizer
}
