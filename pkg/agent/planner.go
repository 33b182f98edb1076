package agent

import (
	"context"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// PlanError marks a planning failure; the task is failed with its message.
type PlanError struct {
	msg string
}

func (e *PlanError) Error() string {
	return e.msg
}

func planErrorf(format string, args ...any) error {
	return &PlanError{msg: fmt.Sprintf(format, args...)}
}

// Planner turns a goal into a strict-JSON step plan.
type Planner struct {
	provider llm.ChatProvider
	registry *tools.Registry
	models   Models
}

// NewPlanner creates a Planner.
func NewPlanner(provider llm.ChatProvider, registry *tools.Registry, m Models) *Planner {
	return &Planner{provider: provider, registry: registry, models: m}
}

// GeneratePlan asks the model for a plan and validates it. A malformed
// first response gets exactly one repair call before the run fails.
func (p *Planner) GeneratePlan(ctx context.Context, goal string, allowedTools []string, mode, skillPrompt string) (*models.Plan, error) {
	sys := plannerSystem
	if skillPrompt != "" {
		sys += "\n\nSKILL_CONTEXT:\n" + skillPrompt
	}
	sys += "\n\nALLOWED_TOOLS:\n" + p.registry.Summary(allowedTools)

	user := fmt.Sprintf("GOAL:\n%s\n\nReturn only strict JSON as specified.", goal)
	temp := 0.2
	req := llm.Request{
		Model: p.models.ForMode(mode),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sys},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature:    &temp,
		ResponseFormat: "json_object",
	}

	resp, err := p.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}

	var plan models.Plan
	if parseErr := extractJSON(resp.Content, &plan); parseErr != nil {
		repaired, repairErr := p.repair(ctx, req, resp.Content)
		if repairErr != nil {
			return nil, planErrorf("planner produced invalid JSON: %v", parseErr)
		}
		plan = *repaired
	}

	if err := p.validate(&plan, allowedTools); err != nil {
		return nil, err
	}
	return &plan, nil
}

// repair replays the conversation with the bad output and a stricter
// instruction. One attempt only.
func (p *Planner) repair(ctx context.Context, req llm.Request, badOutput string) (*models.Plan, error) {
	zero := 0.0
	req.Temperature = &zero
	req.Messages = append(req.Messages,
		llm.Message{Role: llm.RoleAssistant, Content: badOutput},
		llm.Message{Role: llm.RoleSystem, Content: "You output invalid JSON. Output ONLY valid JSON for the plan schema. No markdown."},
	)
	resp, err := p.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	var plan models.Plan
	if err := extractJSON(resp.Content, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Planner) validate(plan *models.Plan, allowedTools []string) error {
	if len(plan.Steps) == 0 {
		return planErrorf("plan must include non-empty steps")
	}
	allowed := make(map[string]bool, len(allowedTools))
	for _, t := range allowedTools {
		allowed[t] = true
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Tool == "" || len(s.Args) == 0 {
			return planErrorf("each step must include tool and args")
		}
		if len(allowedTools) > 0 && !allowed[s.Tool] {
			return planErrorf("step tool not allowed: %s", s.Tool)
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("Step %d", i+1)
		}
	}
	if plan.Summary == "" {
		plan.Summary = "Run"
	}
	return nil
}
