package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/policy"
	"github.com/agentworkbench/workbench/pkg/services"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// Launcher runs task work on a background worker. Implemented by the
// queue pool.
type Launcher interface {
	Submit(taskID string, run func(ctx context.Context)) error
}

// LoopBackend is the agent-loop engine variant. Implemented by the loop
// subpackage; methods run to completion or suspension on the caller's
// goroutine.
type LoopBackend interface {
	Run(ctx context.Context, taskID string)
	Resume(ctx context.Context, taskID string, approve bool)
	Continue(ctx context.Context, taskID, message string)
	Cancel(taskID string) bool
}

// Engine drives classic tasks through the plan/execute/critique state
// machine and routes agent-backed tasks to the loop backend. It owns the
// approval rendezvous, cancellation, and continue entry points for both.
type Engine struct {
	tasks      *services.TaskService
	steps      *services.StepService
	approvals  *services.ApprovalService
	workspaces *services.WorkspaceService
	skills     *services.SkillService
	publisher  *events.Publisher
	policy     *policy.Engine
	registry   *tools.Registry

	planner  *Planner
	executor *Executor
	critic   *Critic

	pool Launcher
	loop LoopBackend
	opts Options
}

// NewEngine wires the classic engine. The loop backend is attached
// separately to keep construction order simple.
func NewEngine(
	tasks *services.TaskService,
	steps *services.StepService,
	approvals *services.ApprovalService,
	workspaces *services.WorkspaceService,
	skills *services.SkillService,
	publisher *events.Publisher,
	policyEngine *policy.Engine,
	registry *tools.Registry,
	planner *Planner,
	executor *Executor,
	critic *Critic,
	pool Launcher,
	opts Options,
) *Engine {
	return &Engine{
		tasks:      tasks,
		steps:      steps,
		approvals:  approvals,
		workspaces: workspaces,
		skills:     skills,
		publisher:  publisher,
		policy:     policyEngine,
		registry:   registry,
		planner:    planner,
		executor:   executor,
		critic:     critic,
		pool:       pool,
		opts:       opts,
	}
}

// SetLoopBackend attaches the agent-loop backend.
func (e *Engine) SetLoopBackend(loop LoopBackend) {
	e.loop = loop
}

func ptr[T any](v T) *T {
	return &v
}

// Launch starts (or resumes) a task on a background worker.
func (e *Engine) Launch(ctx context.Context, taskID string) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status == models.TaskCanceled {
		return nil
	}
	if t.Backend == models.BackendAgent && e.loop != nil {
		return e.pool.Submit(taskID, func(ctx context.Context) {
			e.loop.Run(ctx, taskID)
		})
	}
	return e.pool.Submit(taskID, func(ctx context.Context) {
		e.RunClassic(ctx, taskID)
	})
}

// Approve records an approval decision and resumes or fails the task.
// Deciding an already-decided approval is a no-op, as is deciding against
// a terminal task.
func (e *Engine) Approve(ctx context.Context, taskID, stepID, decision, reason string) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	latest, err := e.approvals.LatestForStep(ctx, stepID)
	if err != nil {
		return err
	}
	if latest.Status != models.ApprovalPending {
		return nil
	}

	status := "rejected"
	if decision == "approve" {
		status = "approved"
	}
	if _, err := e.approvals.Decide(ctx, stepID, status, reason); err != nil {
		return err
	}

	step, err := e.steps.Get(ctx, stepID)
	if err != nil {
		return err
	}

	if status == "approved" {
		scope := tools.ScopeFor(step.Tool)
		e.policy.Grants().Grant(taskID, scope)

		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskRunning)}); err != nil {
			return err
		}
		if t.Backend == models.BackendAgent && e.loop != nil {
			return e.pool.Submit(taskID, func(ctx context.Context) {
				e.loop.Resume(ctx, taskID, true)
			})
		}
		return e.pool.Submit(taskID, func(ctx context.Context) {
			e.RunClassic(ctx, taskID)
		})
	}

	msg := "Rejected by user: " + reason
	if reason == "" {
		msg = "Rejected by user."
	}
	if _, err := e.steps.Update(ctx, stepID, services.StepUpdate{
		Status: ptr(models.StepFailed),
		Error:  &msg,
	}); err != nil {
		return err
	}
	if t.Backend == models.BackendAgent && e.loop != nil {
		// Resume with a denial so the loop observes the rejection in its
		// conversation and can route around it.
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
			Status: ptr(models.TaskRunning),
			Error:  ptr(""),
		}); err != nil {
			return err
		}
		return e.pool.Submit(taskID, func(ctx context.Context) {
			e.loop.Resume(ctx, taskID, false)
		})
	}
	_, err = e.tasks.Update(ctx, taskID, services.TaskUpdate{
		Status: ptr(models.TaskFailed),
		Error:  &msg,
	})
	return err
}

// Cancel marks the task canceled. In-flight tool calls finish on their
// own; every loop checkpoint observes the status and stops.
func (e *Engine) Cancel(ctx context.Context, taskID, reason string) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}
	msg := reason
	if msg == "" {
		msg = "Canceled by user."
	}
	if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
		Status:             ptr(models.TaskCanceled),
		Error:              &msg,
		BackendInterruptID: ptr(""),
		BackendResumeToken: ptr(""),
	}); err != nil {
		return err
	}
	e.policy.Grants().ClearTask(taskID)
	if t.Backend == models.BackendAgent && e.loop != nil {
		e.loop.Cancel(taskID)
	}
	return nil
}

// Continue feeds a follow-up message into the task. While waiting for an
// approval the message is interpreted as the decision; otherwise it
// becomes a new user turn for the agent-loop backend.
func (e *Engine) Continue(ctx context.Context, taskID, message string) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, t.Status, services.ErrConflict)
	}

	if _, err := e.publisher.PublishChatMessage(ctx, taskID, "user", message); err != nil {
		slog.Warn("Failed to record chat message", "task_id", taskID, "error", err)
	}

	if t.Status == models.TaskWaitingApproval {
		decision, ok := ParseApprovalMessage(message)
		if !ok {
			return fmt.Errorf("message is not an approval decision: %w", services.ErrConflict)
		}
		pending, err := e.approvals.LatestPendingForTask(ctx, taskID)
		if err != nil {
			return err
		}
		return e.Approve(ctx, taskID, pending.StepID, decision, message)
	}

	if t.Backend == models.BackendAgent && e.loop != nil {
		return e.pool.Submit(taskID, func(ctx context.Context) {
			e.loop.Continue(ctx, taskID, message)
		})
	}
	return fmt.Errorf("continue is supported only for agent backend tasks: %w", services.ErrConflict)
}

// canceled reports whether the task has been canceled since the last
// checkpoint.
func (e *Engine) canceled(ctx context.Context, taskID string) bool {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return false
	}
	return t.Status == models.TaskCanceled
}

// failTask marks the task failed unless it was canceled meanwhile.
func (e *Engine) failTask(ctx context.Context, taskID, msg string) {
	if e.canceled(ctx, taskID) {
		return
	}
	if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
		Status: ptr(models.TaskFailed),
		Error:  &msg,
	}); err != nil {
		slog.Error("Failed to mark task failed", "task_id", taskID, "error", err)
	}
}

// toolRequiresApproval is the configured default consent requirement for
// a tool, independent of the step's own flag.
func (e *Engine) toolRequiresApproval(name string) bool {
	risky := true
	if spec, ok := e.registry.Get(name); ok {
		risky = spec.Risky
	}
	return e.opts.Approvals.RequiredFor(name, risky)
}

// RunClassic drives one task to completion, suspension, or failure. It is
// safe to call again after an approval: the loop skips succeeded steps and
// re-checks the pending approval at the waiting step.
func (e *Engine) RunClassic(ctx context.Context, taskID string) {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Error("Failed to load task", "task_id", taskID, "error", err)
		return
	}
	if t.Status == models.TaskCanceled {
		return
	}
	ws, err := e.workspaces.Get(ctx, t.WorkspaceID)
	if err != nil {
		e.failTask(ctx, taskID, fmt.Sprintf("workspace not found: %v", err))
		return
	}
	sk, err := e.skills.Get(ctx, t.SkillID)
	if err != nil {
		e.failTask(ctx, taskID, fmt.Sprintf("skill not found: %v", err))
		return
	}

	wsRoot := ws.Path
	outputsDir := filepath.Join(wsRoot, "outputs", taskID)
	artifactsDir := filepath.Join(e.opts.ArtifactsDir, taskID)
	skillPrompt := RenderPromptTemplate(sk.SystemPrompt, map[string]string{
		"task_id":        taskID,
		"workspace_root": wsRoot,
		"outputs_dir":    outputsDir,
		"artifacts_dir":  artifactsDir,
	})
	allowedTools := sk.AllowedTools

	if t.Plan == nil {
		if e.canceled(ctx, taskID) {
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskPlanning)}); err != nil {
			slog.Error("Failed to enter planning", "task_id", taskID, "error", err)
			return
		}
		plan, err := e.planner.GeneratePlan(ctx, t.Goal, allowedTools, t.Mode, skillPrompt)
		if err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("planning failed: %v", err))
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Plan: plan}); err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("failed to persist plan: %v", err))
			return
		}
		if err := e.steps.DeleteFromIdx(ctx, taskID, 0); err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("failed to reset steps: %v", err))
			return
		}
		if _, err := e.steps.Insert(ctx, taskID, plan.Steps, 0); err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("failed to insert steps: %v", err))
			return
		}
		if e.canceled(ctx, taskID) {
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
			Status:      ptr(models.TaskRunning),
			CurrentStep: ptr(0),
		}); err != nil {
			slog.Error("Failed to enter running", "task_id", taskID, "error", err)
			return
		}
	} else {
		if e.canceled(ctx, taskID) {
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskRunning)}); err != nil {
			slog.Error("Failed to enter running", "task_id", taskID, "error", err)
			return
		}
	}

	for criticIter := 0; criticIter < MaxCriticIterations; criticIter++ {
		if e.canceled(ctx, taskID) {
			return
		}
		t, err = e.tasks.Get(ctx, taskID)
		if err != nil {
			slog.Error("Failed to reload task", "task_id", taskID, "error", err)
			return
		}
		plan := t.Plan
		steps, err := e.steps.ListByTask(ctx, taskID)
		if err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("failed to load steps: %v", err))
			return
		}
		idx := t.CurrentStep

		for idx < len(steps) {
			if e.canceled(ctx, taskID) {
				return
			}
			step := steps[idx]
			if step.Status == models.StepSucceeded {
				idx++
				if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{CurrentStep: ptr(idx)}); err != nil {
					slog.Error("Failed to advance step", "task_id", taskID, "error", err)
					return
				}
				continue
			}

			if step.Status == models.StepWaitingApproval {
				latest, err := e.approvals.LatestForStep(ctx, step.ID)
				if err == nil && latest.Status == models.ApprovalApproved {
					if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{Status: ptr(models.StepPending)}); err != nil {
						slog.Error("Failed to reset approved step", "step_id", step.ID, "error", err)
						return
					}
				} else {
					if !e.canceled(ctx, taskID) {
						if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskWaitingApproval)}); err != nil {
							slog.Error("Failed to enter waiting_approval", "task_id", taskID, "error", err)
						}
					}
					return
				}
			}

			if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{
				Status: ptr(models.StepRunning),
				Error:  ptr(""),
			}); err != nil {
				slog.Error("Failed to start step", "step_id", step.ID, "error", err)
				return
			}

			requiresApproval := step.RequiresApproval || e.toolRequiresApproval(step.Tool)
			decision, err := e.policy.Evaluate(ctx, t.WorkspaceID, step.Tool, taskID, requiresApproval)
			if err != nil {
				e.failTask(ctx, taskID, fmt.Sprintf("policy evaluation failed: %v", err))
				return
			}
			switch decision.Mode {
			case policy.ModeDeny:
				if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{
					Status: ptr(models.StepFailed),
					Error:  &decision.Reason,
				}); err != nil {
					slog.Error("Failed to mark step denied", "step_id", step.ID, "error", err)
				}
				e.failTask(ctx, taskID, decision.Reason)
				return
			case policy.ModeRequireApproval:
				latest, err := e.approvals.LatestForStep(ctx, step.ID)
				if err == nil && latest.Status == models.ApprovalApproved {
					// Already approved for this step; do not ask again.
					if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{RequiresApproval: ptr(false)}); err != nil {
						slog.Warn("Failed to clear approval flag", "step_id", step.ID, "error", err)
					}
				} else {
					if _, err := e.approvals.Request(ctx, taskID, step.ID); err != nil {
						e.failTask(ctx, taskID, fmt.Sprintf("failed to request approval: %v", err))
						return
					}
					if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{
						Status:           ptr(models.StepWaitingApproval),
						RequiresApproval: ptr(true),
					}); err != nil {
						slog.Error("Failed to park step", "step_id", step.ID, "error", err)
						return
					}
					if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskWaitingApproval)}); err != nil {
						slog.Error("Failed to enter waiting_approval", "task_id", taskID, "error", err)
					}
					return
				}
			default:
				if step.RequiresApproval {
					if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{RequiresApproval: ptr(false)}); err != nil {
						slog.Warn("Failed to clear approval flag", "step_id", step.ID, "error", err)
					}
				}
			}

			toolCtx := tools.WithRunContext(ctx, tools.RunContext{
				TaskID:        taskID,
				StepID:        step.ID,
				WorkspaceRoot: wsRoot,
				ArtifactsDir:  artifactsDir,
				OutputsDir:    outputsDir,
			})
			result, toolErr := e.registry.Run(toolCtx, step.Tool, step.Args)
			if toolErr != nil {
				msg := toolErr.Error()
				if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{
					Status: ptr(models.StepFailed),
					Error:  &msg,
				}); err != nil {
					slog.Error("Failed to mark step failed", "step_id", step.ID, "error", err)
				}
				e.failTask(ctx, taskID, msg)
				return
			}
			if _, err := e.steps.Update(ctx, step.ID, services.StepUpdate{
				Status: ptr(models.StepSucceeded),
				Result: result,
			}); err != nil {
				slog.Error("Failed to mark step succeeded", "step_id", step.ID, "error", err)
				return
			}
			idx++
			if e.canceled(ctx, taskID) {
				return
			}
			if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
				CurrentStep: ptr(idx),
				Status:      ptr(models.TaskRunning),
			}); err != nil {
				slog.Error("Failed to advance task", "task_id", taskID, "error", err)
				return
			}

			// Optional plan patch. Patch failures never fail the run.
			patch, patchErr := e.executor.ProposePatch(ctx, t.Goal, plan, idx, []json.RawMessage{result}, allowedTools, t.Mode, skillPrompt)
			if patchErr != nil {
				slog.Debug("Patch proposal failed", "task_id", taskID, "error", patchErr)
			} else if patch != nil {
				if err := applyPatch(ctx, e.steps, taskID, patch); err != nil {
					slog.Warn("Patch rejected", "task_id", taskID, "error", err)
				} else {
					steps, err = e.steps.ListByTask(ctx, taskID)
					if err != nil {
						e.failTask(ctx, taskID, fmt.Sprintf("failed to reload steps: %v", err))
						return
					}
				}
			}
		}

		artifacts, err := CollectArtifacts(e.opts.ArtifactsDir, taskID)
		if err != nil {
			slog.Warn("Artifact collection failed", "task_id", taskID, "error", err)
		}
		reportPath, err := writeRunReport(wsRoot, taskID, t.Goal, plan, steps, artifacts)
		if err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("failed to write report: %v", err))
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{OutputPath: &reportPath}); err != nil {
			slog.Error("Failed to record report path", "task_id", taskID, "error", err)
		}

		verdict, err := e.critic.Review(ctx, t.Goal, plan, artifacts, t.Mode, skillPrompt)
		if err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("critic failed: %v", err))
			return
		}
		if verdict.OK {
			if e.canceled(ctx, taskID) {
				return
			}
			if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{
				Status: ptr(models.TaskSucceeded),
				Error:  ptr(""),
			}); err != nil {
				slog.Error("Failed to mark task succeeded", "task_id", taskID, "error", err)
			}
			e.policy.Grants().ClearTask(taskID)
			return
		}
		if len(verdict.FixSteps) == 0 {
			e.failTask(ctx, taskID, "Critic reported issues but provided no fix steps.")
			return
		}
		if err := applyPatch(ctx, e.steps, taskID, &models.Patch{
			Reason:   "critic_fix",
			AddSteps: verdict.FixSteps,
		}); err != nil {
			e.failTask(ctx, taskID, fmt.Sprintf("critic fix rejected: %v", err))
			return
		}
		if e.canceled(ctx, taskID) {
			return
		}
		if _, err := e.tasks.Update(ctx, taskID, services.TaskUpdate{Status: ptr(models.TaskRunning)}); err != nil {
			slog.Error("Failed to re-enter running", "task_id", taskID, "error", err)
			return
		}
	}

	e.failTask(ctx, taskID, "Exceeded critic iterations; run did not converge.")
}
