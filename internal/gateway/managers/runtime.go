package managers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/talon-ai/talon/internal/agent"
	"github.com/talon-ai/talon/internal/agent/providers"
	"github.com/talon-ai/talon/internal/config"
	"github.com/talon-ai/talon/internal/sessions"
)

// RuntimeManager owns the model router (a priority-ordered failover chain of
// LLM providers), the agentic loop built on top of it, and the session
// store and branch store the loop reads/writes history through.
type RuntimeManager struct {
	mu     sync.RWMutex
	config *config.Config
	logger *slog.Logger

	toolRegistry *agent.ToolRegistry

	loop         *agent.AgenticLoop
	llmProvider  agent.LLMProvider
	defaultModel string

	sessions    sessions.Store
	branchStore sessions.BranchStore

	memoryLogger *sessions.MemoryLogger

	approvalChecker *agent.ApprovalChecker

	started bool
}

// RuntimeManagerConfig holds configuration for RuntimeManager.
type RuntimeManagerConfig struct {
	Config *config.Config
	Logger *slog.Logger

	// ToolRegistry is the registry the agentic loop executes tools through.
	// Normally owned by a ToolingManager and shared here so tools registered
	// there are visible to the loop. A private registry is created if nil.
	ToolRegistry *agent.ToolRegistry
}

// NewRuntimeManager creates a new RuntimeManager.
func NewRuntimeManager(cfg RuntimeManagerConfig) *RuntimeManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.ToolRegistry
	if registry == nil {
		registry = agent.NewToolRegistry()
	}

	return &RuntimeManager{
		config:       cfg.Config,
		logger:       logger.With("component", "runtime-manager"),
		toolRegistry: registry,
	}
}

// Start initializes the session store, branch store, LLM provider chain, and
// approval checker. Re-entry is a no-op.
func (m *RuntimeManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	m.sessions = sessions.NewMemoryStore()
	m.branchStore = sessions.NewMemoryBranchStore()

	if m.config.Session.Memory.Enabled {
		m.memoryLogger = sessions.NewMemoryLogger(m.config.Session.Memory.Directory)
	}

	if err := m.initProvider(); err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	m.initApprovalChecker()

	m.started = true
	m.logger.Info("runtime manager started")
	return nil
}

// Stop releases the session store's resources, if any.
func (m *RuntimeManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	var errs []error
	if closer, ok := m.sessions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}

	m.started = false
	m.logger.Info("runtime manager stopped")

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Loop returns the agentic loop, constructing it on first call.
func (m *RuntimeManager) Loop(ctx context.Context) (*agent.AgenticLoop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop != nil {
		return m.loop, nil
	}
	if m.llmProvider == nil {
		return nil, errors.New("no LLM provider configured")
	}

	loopCfg := agent.DefaultLoopConfig()
	loopCfg.BranchStore = m.branchStore
	loopCfg.ApprovalChecker = m.approvalChecker
	if m.config != nil {
		loopCfg.MaxIterations = maxIterationsOrDefault(m.config.Tools.Execution.MaxIterations, loopCfg.MaxIterations)
	}

	loop := agent.NewAgenticLoop(m.llmProvider, m.toolRegistry, m.sessions, loopCfg)
	if m.defaultModel != "" {
		loop.SetDefaultModel(m.defaultModel)
	}

	m.loop = loop
	return loop, nil
}

// ToolRegistry returns the tool registry the loop executes tools through.
func (m *RuntimeManager) ToolRegistry() *agent.ToolRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toolRegistry
}

func maxIterationsOrDefault(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Sessions returns the session store.
func (m *RuntimeManager) Sessions() sessions.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions
}

// BranchStore returns the branch store.
func (m *RuntimeManager) BranchStore() sessions.BranchStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.branchStore
}

// MemoryLogger returns the append-only memory logger, or nil if disabled.
func (m *RuntimeManager) MemoryLogger() *sessions.MemoryLogger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryLogger
}

// ApprovalChecker returns the approval checker.
func (m *RuntimeManager) ApprovalChecker() *agent.ApprovalChecker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approvalChecker
}

// LLMProvider returns the top-level LLM provider (a failover orchestrator
// wrapping the configured provider priority list).
func (m *RuntimeManager) LLMProvider() agent.LLMProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.llmProvider
}

// DefaultModel returns the default model name.
func (m *RuntimeManager) DefaultModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultModel
}

// initProvider builds the priority-ordered provider chain: the default
// provider first, then each entry of the fallback chain in config order.
// Errors classified as Auth, RateLimit, Timeout, Billing, or ProviderDown
// advance to the next provider in the chain (see agent.FailoverOrchestrator).
func (m *RuntimeManager) initProvider() error {
	providerID := normalizeProviderID(m.config.LLM.DefaultProvider)
	if providerID == "" {
		providerID = "anthropic"
	}

	if discovery := m.config.LLM.AutoDiscover.Ollama; discovery.Enabled && discovery.PreferLocal {
		if result, err := discoverOllama(discovery.ProbeLocations, m.logger); err != nil {
			m.logger.Warn("ollama discovery failed", "error", err)
		} else if result != nil {
			m.logger.Info("preferring locally discovered ollama provider", "base_url", result.BaseURL)
			providerID = "ollama"
			ollamaCfg := m.config.LLM.Providers["ollama"]
			ollamaCfg.BaseURL = result.BaseURL
			if ollamaCfg.DefaultModel == "" {
				ollamaCfg.DefaultModel = result.DefaultModel
			}
			if m.config.LLM.Providers == nil {
				m.config.LLM.Providers = map[string]config.LLMProviderConfig{}
			}
			m.config.LLM.Providers["ollama"] = ollamaCfg
		}
	}

	primary, model, err := m.buildProvider(providerID)
	if err != nil {
		return err
	}

	if len(m.config.LLM.FallbackChain) > 0 {
		orchestrator := agent.NewFailoverOrchestrator(primary, agent.DefaultFailoverConfig())

		for _, fallbackID := range m.config.LLM.FallbackChain {
			fallbackID = normalizeProviderID(fallbackID)
			if fallbackID == "" || fallbackID == providerID {
				continue
			}
			fallback, _, err := m.buildProvider(fallbackID)
			if err != nil {
				m.logger.Warn("failed to create fallback provider", "provider", fallbackID, "error", err)
				continue
			}
			orchestrator.AddProvider(fallback)
		}

		m.llmProvider = orchestrator
	} else {
		m.llmProvider = primary
	}

	m.defaultModel = model
	return nil
}

// buildProvider constructs a single LLM provider by its configured id. The
// "ollama" shape requires no credential header (see providers.OllamaConfig);
// sending one would cause Ollama's OpenAI-compatible endpoint to reject
// specific local models, so no API key field is read for it.
func (m *RuntimeManager) buildProvider(providerID string) (agent.LLMProvider, string, error) {
	baseID, profileID := splitProviderProfileID(providerID)
	providerCfg, ok := m.config.LLM.Providers[baseID]
	if !ok {
		return nil, "", fmt.Errorf("provider config missing for %q", baseID)
	}
	providerCfg, err := resolveProviderProfile(providerCfg, profileID)
	if err != nil {
		return nil, "", err
	}
	providerID = baseID

	switch providerID {
	case "anthropic":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
			BaseURL:      providerCfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, providerCfg.DefaultModel, nil

	case "openai":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		provider := providers.NewOpenAIProvider(providerCfg.APIKey)
		return provider, providerCfg.DefaultModel, nil

	case "ollama":
		provider := providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		return provider, providerCfg.DefaultModel, nil

	default:
		return nil, "", fmt.Errorf("unsupported provider %q", providerID)
	}
}

// initApprovalChecker creates the approval checker used to gate sensitive
// tool calls. With no require-approval list configured, everything is
// allowed by default.
func (m *RuntimeManager) initApprovalChecker() {
	basePolicy := agent.DefaultApprovalPolicy()

	if len(m.config.Tools.Execution.RequireApproval) == 0 {
		basePolicy.Allowlist = []string{"*"}
		basePolicy.DefaultDecision = agent.ApprovalAllowed
	} else {
		basePolicy.RequireApproval = m.config.Tools.Execution.RequireApproval
	}

	checker := agent.NewApprovalChecker(basePolicy)
	checker.SetStore(agent.NewMemoryApprovalStore())
	m.approvalChecker = checker
}
