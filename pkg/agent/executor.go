package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// Executor proposes plan patches between steps. Patch failures are
// swallowed by the engine; a run never fails because a patch call broke.
type Executor struct {
	provider llm.ChatProvider
	registry *tools.Registry
	models   Models
}

// NewExecutor creates an Executor.
func NewExecutor(provider llm.ChatProvider, registry *tools.Registry, m Models) *Executor {
	return &Executor{provider: provider, registry: registry, models: m}
}

type patchEnvelope struct {
	Patch *models.Patch `json:"patch"`
}

// ProposePatch asks whether the remaining plan is still valid. A nil patch
// with nil error means "no change needed". recentResults carries at most
// the last three tool results.
func (e *Executor) ProposePatch(ctx context.Context, goal string, plan *models.Plan, currentStepIdx int, recentResults []json.RawMessage, allowedTools []string, mode, skillPrompt string) (*models.Patch, error) {
	sys := executorSystem
	if skillPrompt != "" {
		sys += "\n\nSKILL_CONTEXT:\n" + skillPrompt
	}
	sys += "\n\nALLOWED_TOOLS:\n" + e.registry.Summary(allowedTools)

	if len(recentResults) > 3 {
		recentResults = recentResults[len(recentResults)-3:]
	}
	payload, err := json.Marshal(map[string]any{
		"goal":             goal,
		"current_step_idx": currentStepIdx,
		"plan":             plan,
		"recent_results":   recentResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal executor payload: %w", err)
	}

	temp := 0.2
	resp, err := e.provider.Chat(ctx, llm.Request{
		Model: e.models.ForMode(mode),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sys},
			{Role: llm.RoleUser, Content: string(payload)},
		},
		Temperature:    &temp,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("executor call failed: %w", err)
	}

	var env patchEnvelope
	if err := extractJSON(resp.Content, &env); err != nil {
		return nil, fmt.Errorf("executor produced invalid JSON: %w", err)
	}
	return env.Patch, nil
}
