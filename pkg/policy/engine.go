// Package policy decides whether a tool call runs unattended, requires a
// human approval, or is denied outright.
package policy

import (
	"context"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// Mode is the outcome of a policy evaluation.
type Mode string

const (
	ModeAuto            Mode = "auto"
	ModeRequireApproval Mode = "require_approval"
	ModeDeny            Mode = "deny"
)

// Decision is the policy verdict for one tool call.
type Decision struct {
	Allow  bool
	Mode   Mode
	Scope  models.Scope
	Reason string
}

// Engine evaluates workspace policies plus the per-task ask-once grants.
type Engine struct {
	policies *services.PolicyService
	grants   *Grants
}

// NewEngine creates a policy Engine.
func NewEngine(policies *services.PolicyService, grants *Grants) *Engine {
	return &Engine{policies: policies, grants: grants}
}

// Grants exposes the ask-once grant set, for recording approvals.
func (e *Engine) Grants() *Grants {
	return e.grants
}

// Evaluate applies the rules in order. requiresApproval is the effective
// flag computed by the engine: the step's own flag OR the tool's default
// (per-scope config flags, otherwise the spec's risky bit). always_deny
// blocks only calls that needed consent anyway, plus the network and mcp
// scopes which are deniable outright.
func (e *Engine) Evaluate(ctx context.Context, workspaceID, toolName, taskID string, requiresApproval bool) (Decision, error) {
	scope := tools.ScopeFor(toolName)

	kind, err := e.policies.Get(ctx, workspaceID, scope)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load policy for scope %s: %w", scope, err)
	}

	// Workspaces can opt network calls into gating: any stance other than
	// always_allow forces consent for the network scope.
	if scope == models.ScopeNetwork && kind != models.PolicyAlwaysAllow {
		requiresApproval = true
	}

	if kind == models.PolicyAlwaysDeny &&
		(requiresApproval || scope == models.ScopeNetwork || scope == models.ScopeMCP) {
		return Decision{
			Allow:  false,
			Mode:   ModeDeny,
			Scope:  scope,
			Reason: fmt.Sprintf("Denied by policy (%s).", scope),
		}, nil
	}
	if kind == models.PolicyAlwaysAllow {
		return Decision{Allow: true, Mode: ModeAuto, Scope: scope}, nil
	}
	if !requiresApproval {
		return Decision{Allow: true, Mode: ModeAuto, Scope: scope}, nil
	}
	if e.grants.Granted(taskID, scope) {
		return Decision{Allow: true, Mode: ModeAuto, Scope: scope}, nil
	}
	return Decision{
		Allow:  false,
		Mode:   ModeRequireApproval,
		Scope:  scope,
		Reason: fmt.Sprintf("Approval required for scope %s.", scope),
	}, nil
}
