// Package loop implements the agent-loop backend: a single LLM
// tool-calling conversation driving the task, with policy interception on
// every tool call and durable interrupts for approvals.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworkbench/workbench/pkg/agent"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/policy"
	"github.com/agentworkbench/workbench/pkg/services"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// maxIterations bounds the conversation; each iteration is one LLM turn.
const maxIterations = 40

// chatHistoryLimit caps the reconstructed conversation.
const chatHistoryLimit = 200

// toolResultClip bounds tool output recorded into the chat transcript.
const toolResultClip = 2000

// emptyStreamDiagnosis is the user-facing failure when the gateway never
// produced content.
const emptyStreamDiagnosis = "Gateway returned empty SSE stream (no content/tool_calls)."

// Runner is the agent-loop backend. It satisfies agent.LoopBackend.
type Runner struct {
	tasks      *services.TaskService
	steps      *services.StepService
	approvals  *services.ApprovalService
	workspaces *services.WorkspaceService
	skills     *services.SkillService
	eventsSvc  *services.EventService
	publisher  *events.Publisher
	policy     *policy.Engine
	registry   *tools.Registry
	provider   llm.ChatProvider
	opts       agent.Options

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRunner creates the agent-loop backend.
func NewRunner(
	tasks *services.TaskService,
	steps *services.StepService,
	approvals *services.ApprovalService,
	workspaces *services.WorkspaceService,
	skills *services.SkillService,
	eventsSvc *services.EventService,
	publisher *events.Publisher,
	policyEngine *policy.Engine,
	registry *tools.Registry,
	provider llm.ChatProvider,
	opts agent.Options,
) *Runner {
	return &Runner{
		tasks:      tasks,
		steps:      steps,
		approvals:  approvals,
		workspaces: workspaces,
		skills:     skills,
		eventsSvc:  eventsSvc,
		publisher:  publisher,
		policy:     policyEngine,
		registry:   registry,
		provider:   provider,
		opts:       opts,
		running:    make(map[string]context.CancelFunc),
	}
}

var _ agent.LoopBackend = (*Runner)(nil)

func ptr[T any](v T) *T {
	return &v
}

// register installs a cancel handle for a running loop.
func (r *Runner) register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[taskID] = cancel
}

func (r *Runner) unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, taskID)
}

// Cancel schedules a cooperative cancel on a running loop. Returns true
// when a running loop was found.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// runEnv is the per-run context shared by the loop helpers.
type runEnv struct {
	task         *models.Task
	workspace    *models.Workspace
	skill        *models.Skill
	wsRoot       string
	outputsDir   string
	artifactsDir string
	allowedTools []string
	systemPrompt string
}

func (r *Runner) loadEnv(ctx context.Context, taskID string) (*runEnv, error) {
	t, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ws, err := r.workspaces.Get(ctx, t.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace not found: %w", err)
	}
	sk, err := r.skills.Get(ctx, t.SkillID)
	if err != nil {
		return nil, fmt.Errorf("skill not found: %w", err)
	}

	wsRoot := ws.Path
	outputsDir := filepath.Join(wsRoot, "outputs", taskID)
	artifactsDir := filepath.Join(r.opts.ArtifactsDir, taskID)

	skillPrompt := agent.RenderPromptTemplate(sk.SystemPrompt, map[string]string{
		"task_id":        taskID,
		"workspace_root": wsRoot,
		"outputs_dir":    outputsDir,
		"artifacts_dir":  artifactsDir,
	})
	sys := skillPrompt
	if sys != "" {
		sys += "\n\n"
	}
	sys += "RUN_CONTEXT:\n" +
		"workspace_root: " + wsRoot + "\n" +
		"outputs_dir: " + outputsDir + "\n" +
		"artifacts_dir: " + artifactsDir + "\n" +
		"All file paths are relative to workspace_root. Write final outputs under outputs_dir.\n" +
		"When the goal is complete, reply with the final answer as plain text."

	return &runEnv{
		task:         t,
		workspace:    ws,
		skill:        sk,
		wsRoot:       wsRoot,
		outputsDir:   outputsDir,
		artifactsDir: artifactsDir,
		allowedTools: sk.AllowedTools,
		systemPrompt: sys,
	}, nil
}

// history rebuilds the conversation from chat_message events. Tool rows
// are folded into system turns so the transcript stays valid for an
// OpenAI-compatible endpoint.
func (r *Runner) history(ctx context.Context, taskID string) ([]llm.Message, error) {
	rows, err := r.eventsSvc.ListChatMessages(ctx, taskID, chatHistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(rows))
	for _, ev := range rows {
		var payload events.ChatMessagePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		if payload.Content == "" {
			continue
		}
		switch payload.Role {
		case "user", "assistant", "system":
			out = append(out, llm.Message{Role: payload.Role, Content: payload.Content})
		case "tool":
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: "Tool result:\n" + payload.Content})
		}
	}
	return out, nil
}

func (r *Runner) agentEvent(ctx context.Context, taskID, stepID, event string, data map[string]any) {
	if _, err := r.publisher.PublishAgentEvent(ctx, taskID, stepID, event, data); err != nil {
		slog.Warn("Failed to mirror agent event", "task_id", taskID, "event", event, "error", err)
	}
}

func (r *Runner) chat(ctx context.Context, taskID, role, content string) {
	if _, err := r.publisher.PublishChatMessage(ctx, taskID, role, content); err != nil {
		slog.Warn("Failed to record chat message", "task_id", taskID, "error", err)
	}
}

func (r *Runner) isCanceled(ctx context.Context, taskID string) bool {
	t, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return false
	}
	return t.Status == models.TaskCanceled
}

func (r *Runner) failTask(ctx context.Context, taskID, msg string) {
	if r.isCanceled(ctx, taskID) {
		return
	}
	if _, err := r.tasks.Update(ctx, taskID, services.TaskUpdate{
		Status:             ptr(models.TaskFailed),
		Error:              &msg,
		BackendInterruptID: ptr(""),
		BackendResumeToken: ptr(""),
	}); err != nil {
		slog.Error("Failed to mark task failed", "task_id", taskID, "error", err)
	}
	r.agentEvent(ctx, taskID, "", "run.failed", map[string]any{"error": msg})
}

// Run drives the loop until the task completes, fails, or suspends on an
// interrupt. Safe to call again after a resume or a follow-up message; the
// conversation is rebuilt from the event log.
func (r *Runner) Run(ctx context.Context, taskID string) {
	ctx, cancel := context.WithCancel(ctx)
	r.register(taskID, cancel)
	defer r.unregister(taskID)
	defer cancel()

	env, err := r.loadEnv(ctx, taskID)
	if err != nil {
		r.failTask(ctx, taskID, err.Error())
		return
	}
	if env.task.Status == models.TaskCanceled {
		return
	}

	runID := env.task.BackendRunID
	upd := services.TaskUpdate{
		Status:             ptr(models.TaskRunning),
		BackendInterruptID: ptr(""),
		BackendResumeToken: ptr(""),
	}
	if runID == "" {
		runID = uuid.NewString()
		upd.BackendRunID = &runID
		upd.BackendThreadID = ptr(uuid.NewString())
	}
	if _, err := r.tasks.Update(ctx, taskID, upd); err != nil {
		slog.Error("Failed to enter running", "task_id", taskID, "error", err)
		return
	}
	r.agentEvent(ctx, taskID, "", "run.started", map[string]any{"run_id": runID})

	messages, err := r.history(ctx, taskID)
	if err != nil {
		r.failTask(ctx, taskID, fmt.Sprintf("failed to load chat history: %v", err))
		return
	}
	messages = append([]llm.Message{{Role: llm.RoleSystem, Content: env.systemPrompt}}, messages...)

	toolDefs := r.registry.OpenAITools(env.allowedTools)
	model := r.opts.Models.ForMode(env.task.Mode)

	for iter := 0; iter < maxIterations; iter++ {
		if ctx.Err() != nil || r.isCanceled(ctx, taskID) {
			return
		}
		if _, err := r.tasks.Update(ctx, taskID, services.TaskUpdate{BackendLastOffset: ptr(int64(iter))}); err != nil {
			slog.Warn("Failed to record loop offset", "task_id", taskID, "error", err)
		}

		result, err := r.provider.ChatStream(ctx, llm.Request{
			Model:    model,
			Messages: messages,
			Tools:    toolDefs,
		}, nil)
		if err != nil {
			if ctx.Err() != nil || r.isCanceled(ctx, taskID) {
				return
			}
			if errors.Is(err, llm.ErrEmptyStream) {
				r.agentEvent(ctx, taskID, "", "llm.failed", map[string]any{"error": "empty_stream"})
				r.failTask(ctx, taskID, emptyStreamDiagnosis)
				return
			}
			r.agentEvent(ctx, taskID, "", "llm.failed", map[string]any{"error": err.Error()})
			r.failTask(ctx, taskID, fmt.Sprintf("LLM call failed: %v", err))
			return
		}
		r.agentEvent(ctx, taskID, "", "llm.completed", map[string]any{
			"content_len": len(result.Content),
			"tool_calls":  len(result.ToolCalls),
		})

		if len(result.ToolCalls) == 0 {
			r.finish(ctx, taskID, env, result)
			return
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		if result.Content != "" {
			r.chat(ctx, taskID, "assistant", result.Content)
		}

		for _, call := range result.ToolCalls {
			interrupted, err := r.handleToolCall(ctx, taskID, env, call, &messages)
			if err != nil {
				r.failTask(ctx, taskID, err.Error())
				return
			}
			if interrupted {
				return
			}
		}
	}

	r.failTask(ctx, taskID, "Agent loop exceeded iteration limit.")
}

// handleToolCall persists a step for the call, applies policy, and either
// executes the tool, feeds a denial back into the transcript, or raises a
// durable interrupt. Returns interrupted=true when the loop must suspend.
func (r *Runner) handleToolCall(ctx context.Context, taskID string, env *runEnv, call llm.ToolCall, messages *[]llm.Message) (bool, error) {
	toolName := call.Function.Name
	args := json.RawMessage(call.Function.Arguments)
	step, err := r.upsertStep(ctx, taskID, toolName, call.ID, args)
	if err != nil {
		return false, fmt.Errorf("failed to persist step: %w", err)
	}
	r.agentEvent(ctx, taskID, step.ID, "tool.started", map[string]any{
		"tool": toolName, "call_id": call.ID,
	})

	risky := true
	if spec, ok := r.registry.Get(toolName); ok {
		risky = spec.Risky
	}
	requiresApproval := r.opts.Approvals.RequiredFor(toolName, risky)

	decision, err := r.policy.Evaluate(ctx, env.task.WorkspaceID, toolName, taskID, requiresApproval)
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}

	switch decision.Mode {
	case policy.ModeDeny:
		// Feed the denial back so the model can route around it.
		if _, err := r.steps.Update(ctx, step.ID, services.StepUpdate{
			Status: ptr(models.StepFailed),
			Error:  &decision.Reason,
		}); err != nil {
			slog.Error("Failed to mark step denied", "step_id", step.ID, "error", err)
		}
		r.agentEvent(ctx, taskID, step.ID, "tool.denied", map[string]any{
			"tool": toolName, "scope": string(decision.Scope),
		})
		r.feedToolResult(ctx, taskID, messages, call, "Error: "+decision.Reason)
		return false, nil

	case policy.ModeRequireApproval:
		interruptID := uuid.NewString()
		resumeToken := uuid.NewString()
		if _, err := r.tasks.Update(ctx, taskID, services.TaskUpdate{
			Status:             ptr(models.TaskWaitingApproval),
			BackendInterruptID: &interruptID,
			BackendResumeToken: &resumeToken,
		}); err != nil {
			return false, fmt.Errorf("failed to persist interrupt: %w", err)
		}
		if _, err := r.steps.Update(ctx, step.ID, services.StepUpdate{
			Status:           ptr(models.StepWaitingApproval),
			RequiresApproval: ptr(true),
		}); err != nil {
			return false, fmt.Errorf("failed to park step: %w", err)
		}
		if _, err := r.approvals.Request(ctx, taskID, step.ID); err != nil {
			return false, fmt.Errorf("failed to request approval: %w", err)
		}
		r.agentEvent(ctx, taskID, step.ID, "interrupt.raised", map[string]any{
			"interrupt_id": interruptID,
			"tool":         toolName,
			"call_id":      call.ID,
			"scope":        string(decision.Scope),
		})
		r.chat(ctx, taskID, "system", fmt.Sprintf(
			"Approval required for tool: `%s` (%s). Reply: approve / reject.\n需要确认：是否允许调用工具 `%s`（%s）。请回复：同意 / 拒绝。",
			toolName, decision.Scope, toolName, decision.Scope))
		return true, nil
	}

	r.executeStep(ctx, taskID, env, step, call, messages)
	return false, nil
}

// executeStep runs an approved or auto-allowed tool call and records the
// outcome in the step row and the transcript.
func (r *Runner) executeStep(ctx context.Context, taskID string, env *runEnv, step *models.Step, call llm.ToolCall, messages *[]llm.Message) {
	if _, err := r.steps.Update(ctx, step.ID, services.StepUpdate{Status: ptr(models.StepRunning)}); err != nil {
		slog.Error("Failed to start step", "step_id", step.ID, "error", err)
	}
	toolCtx := tools.WithRunContext(ctx, tools.RunContext{
		TaskID:        taskID,
		StepID:        step.ID,
		WorkspaceRoot: env.wsRoot,
		ArtifactsDir:  env.artifactsDir,
		OutputsDir:    env.outputsDir,
	})
	result, err := r.registry.Run(toolCtx, step.Tool, step.Args)
	if err != nil {
		msg := err.Error()
		if _, uerr := r.steps.Update(ctx, step.ID, services.StepUpdate{
			Status: ptr(models.StepFailed),
			Error:  &msg,
		}); uerr != nil {
			slog.Error("Failed to mark step failed", "step_id", step.ID, "error", uerr)
		}
		r.agentEvent(ctx, taskID, step.ID, "tool.failed", map[string]any{
			"tool": step.Tool, "error": msg,
		})
		r.feedToolResult(ctx, taskID, messages, call, "Error: "+msg)
		return
	}
	if _, uerr := r.steps.Update(ctx, step.ID, services.StepUpdate{
		Status: ptr(models.StepSucceeded),
		Result: result,
	}); uerr != nil {
		slog.Error("Failed to mark step succeeded", "step_id", step.ID, "error", uerr)
	}
	r.agentEvent(ctx, taskID, step.ID, "tool.succeeded", map[string]any{
		"tool": step.Tool, "result_len": len(result),
	})
	r.feedToolResult(ctx, taskID, messages, call, clip(string(result), toolResultClip))
}

// feedToolResult appends a tool turn to the live transcript and mirrors it
// into the chat history for later reconstruction.
func (r *Runner) feedToolResult(ctx context.Context, taskID string, messages *[]llm.Message, call llm.ToolCall, content string) {
	*messages = append(*messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
	})
	r.chat(ctx, taskID, "tool", call.Function.Name+" → "+clip(content, toolResultClip))
}

// upsertStep finds or creates the step row mirroring one tool call. The
// call ID keys the row so retries and resumes reuse it.
func (r *Runner) upsertStep(ctx context.Context, taskID, toolName, callID string, args json.RawMessage) (*models.Step, error) {
	name := toolName + " #" + callID
	st, err := r.steps.FindByName(ctx, taskID, name)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	maxIdx, err := r.steps.MaxIdx(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	inserted, err := r.steps.Insert(ctx, taskID, []models.PlanStep{{
		Name: name,
		Tool: toolName,
		Args: args,
	}}, maxIdx+1)
	if err != nil {
		return nil, err
	}
	return inserted[0], nil
}

// finish closes out a run whose model produced a final answer. An empty
// answer is salvaged from the reasoning trace when possible; a run with
// nothing to show fails with the guardrail preserved in the log.
func (r *Runner) finish(ctx context.Context, taskID string, env *runEnv, result *llm.Result) {
	output := result.Content
	guardrailFailed := false
	if output == "" && result.Reasoning != "" {
		output = result.Reasoning
		guardrailFailed = true
		r.agentEvent(ctx, taskID, "", "guardrail.failed", map[string]any{
			"reason": "final answer arrived only in the reasoning channel",
		})
	}
	if output == "" {
		r.failTask(ctx, taskID, "Model finished without producing output.")
		return
	}

	r.chat(ctx, taskID, "assistant", output)
	if guardrailFailed {
		r.chat(ctx, taskID, "system", "Warning: the final answer was recovered from the model's reasoning trace.")
	}

	artifacts, err := agent.CollectArtifacts(r.opts.ArtifactsDir, taskID)
	if err != nil {
		slog.Warn("Artifact collection failed", "task_id", taskID, "error", err)
	}
	reportPath, err := writeLoopReport(env.wsRoot, taskID, env.task.Goal, output, artifacts)
	if err != nil {
		slog.Warn("Failed to write report", "task_id", taskID, "error", err)
	}

	if r.isCanceled(ctx, taskID) {
		return
	}
	upd := services.TaskUpdate{
		Status:             ptr(models.TaskSucceeded),
		Error:              ptr(""),
		BackendInterruptID: ptr(""),
		BackendResumeToken: ptr(""),
	}
	if guardrailFailed {
		// Preserve the output but keep the failure for auditing.
		upd.Status = ptr(models.TaskFailed)
		upd.Error = ptr("Output guardrail failed; last model output was preserved.")
	}
	if reportPath != "" {
		upd.OutputPath = &reportPath
	}
	if _, err := r.tasks.Update(ctx, taskID, upd); err != nil {
		slog.Error("Failed to finish task", "task_id", taskID, "error", err)
		return
	}
	r.policy.Grants().ClearTask(taskID)
	r.agentEvent(ctx, taskID, "", "run.completed", map[string]any{
		"guardrail_failed": guardrailFailed,
	})
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…(truncated)"
}
