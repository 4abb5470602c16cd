package session

import (
	"fmt"

	"indiistudio/internal/agents"
	"indiistudio/internal/logging"
	"indiistudio/internal/tools"
	"indiistudio/internal/types"
)

// PromptFunc renders an agent's system prompt.
type PromptFunc func(def agents.Definition) string

// NewAgentFactory returns an agents.Factory that builds one Executor per
// definition, bound to the tools the definition declares. A definition's
// MaxTurns overrides cfg.MaxTurns when set.
func NewAgentFactory(model types.Model, registry *tools.Registry, prompt PromptFunc, cfg Config, opts ...Option) agents.Factory {
	return func(def agents.Definition) (agents.Runner, error) {
		toolset, err := registry.Bind(def.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.ID, err)
		}
		agentCfg := cfg
		if def.MaxTurns > 0 {
			agentCfg.MaxTurns = def.MaxTurns
		}
		system := def.SystemPrompt
		if prompt != nil {
			system = prompt(def)
		}
		logging.Agents("Instantiated agent %s with %d tool(s), max %d turns", def.ID, len(toolset.Names()), agentCfg.MaxTurns)
		return NewExecutor(def.ID, system, model, toolset, agentCfg, opts...), nil
	}
}
