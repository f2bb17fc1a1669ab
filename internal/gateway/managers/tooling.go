package managers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/talon-ai/talon/internal/agent"
	"github.com/talon-ai/talon/internal/config"
	"github.com/talon-ai/talon/internal/toolpolicy"
)

// ToolingManager owns the tool registry and the policy resolver that gates
// which tools a given agent/session is allowed to call. Concrete tool
// implementations are registered by the caller via RegisterTool; this
// manager only holds the registry and enforces policy.
type ToolingManager struct {
	mu     sync.RWMutex
	config *config.Config
	logger *slog.Logger

	registry       *agent.ToolRegistry
	policyResolver *toolpolicy.Resolver

	started bool
}

// ToolingManagerConfig holds configuration for ToolingManager.
type ToolingManagerConfig struct {
	Config         *config.Config
	Logger         *slog.Logger
	PolicyResolver *toolpolicy.Resolver
}

// NewToolingManager creates a new ToolingManager.
func NewToolingManager(cfg ToolingManagerConfig) *ToolingManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policyResolver := cfg.PolicyResolver
	if policyResolver == nil {
		policyResolver = toolpolicy.NewResolver()
	}

	return &ToolingManager{
		config:         cfg.Config,
		logger:         logger.With("component", "tooling-manager"),
		registry:       agent.NewToolRegistry(),
		policyResolver: policyResolver,
	}
}

// Start marks the tool registry ready. Tool registration itself happens
// out-of-band (RegisterTool) since concrete tool implementations are
// supplied by the caller, not owned by the gateway.
func (m *ToolingManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	m.logger.Info("tooling manager started", "tools", len(m.registry.AsLLMTools()))
	return nil
}

// Stop is a no-op; the registry holds no background resources.
func (m *ToolingManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.logger.Info("tooling manager stopped")
	return nil
}

// RegisterTool adds a tool descriptor to the registry.
func (m *ToolingManager) RegisterTool(tool agent.Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.Register(tool)
}

// Registry returns the tool registry.
func (m *ToolingManager) Registry() *agent.ToolRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// PolicyResolver returns the tool policy resolver.
func (m *ToolingManager) PolicyResolver() *toolpolicy.Resolver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policyResolver
}
