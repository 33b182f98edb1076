package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
)

// MaxCriticIterations caps the review-and-fix loop.
const MaxCriticIterations = 3

// Critic reviews a finished run against its goal.
type Critic struct {
	provider llm.ChatProvider
	models   Models
}

// NewCritic creates a Critic.
func NewCritic(provider llm.ChatProvider, m Models) *Critic {
	return &Critic{provider: provider, models: m}
}

// Artifact is one file produced during the run, as shown to the critic and
// listed in the report.
type Artifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Review returns the critic's verdict on the run.
func (c *Critic) Review(ctx context.Context, goal string, plan *models.Plan, artifacts []Artifact, mode, skillPrompt string) (*models.Verdict, error) {
	sys := criticSystem
	if skillPrompt != "" {
		sys += "\n\nSKILL_CONTEXT:\n" + skillPrompt
	}
	payload, err := json.Marshal(map[string]any{
		"goal":      goal,
		"plan":      plan,
		"artifacts": artifacts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal critic payload: %w", err)
	}

	temp := 0.1
	resp, err := c.provider.Chat(ctx, llm.Request{
		Model: c.models.ForMode(mode),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sys},
			{Role: llm.RoleUser, Content: string(payload)},
		},
		Temperature:    &temp,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("critic call failed: %w", err)
	}

	var verdict models.Verdict
	if err := extractJSON(resp.Content, &verdict); err != nil {
		return nil, fmt.Errorf("critic produced invalid JSON: %w", err)
	}
	return &verdict, nil
}
