package gateway

import (
	"encoding/json"

	"github.com/talon-ai/talon/internal/toolpolicy"
	"github.com/talon-ai/talon/pkg/models"
)

// toolPolicyFromAgent derives the effective tool policy for a turn from the
// configured agent's declared tool list plus any structured override under
// its config["tool_policy"] key.
func toolPolicyFromAgent(agentModel *models.Agent) *toolpolicy.Policy {
	if agentModel == nil {
		return nil
	}
	policy := parseAgentToolPolicy(agentModel.Config)
	if policy == nil && len(agentModel.Tools) == 0 {
		return nil
	}
	if len(agentModel.Tools) > 0 {
		policy = toolpolicy.Merge(policy, &toolpolicy.Policy{Allow: agentModel.Tools})
	}
	return policy
}

func parseAgentToolPolicy(cfg map[string]any) *toolpolicy.Policy {
	if len(cfg) == 0 {
		return nil
	}
	raw, ok := cfg["tool_policy"]
	if !ok || raw == nil {
		return nil
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var pol toolpolicy.Policy
	if err := json.Unmarshal(payload, &pol); err != nil {
		return nil
	}
	if pol.Profile == "" && len(pol.Allow) == 0 && len(pol.Deny) == 0 && len(pol.ByProvider) == 0 {
		return nil
	}
	return &pol
}
