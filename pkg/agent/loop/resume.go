package loop

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

// Resume continues a loop suspended on an approval interrupt. The stored
// {interrupt_id, resume_token} pair is consumed exactly once: a second
// resume for the same interrupt finds the fields cleared and is a no-op,
// which makes the rendezvous idempotent.
func (r *Runner) Resume(ctx context.Context, taskID string, approve bool) {
	t, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Error("Failed to load task for resume", "task_id", taskID, "error", err)
		return
	}
	if t.Status == models.TaskCanceled {
		return
	}
	if t.BackendInterruptID == "" || t.BackendResumeToken == "" {
		// Already resumed; the first decision was authoritative.
		return
	}

	interruptID := t.BackendInterruptID
	if _, err := r.tasks.Update(ctx, taskID, services.TaskUpdate{
		BackendInterruptID: ptr(""),
		BackendResumeToken: ptr(""),
	}); err != nil {
		slog.Error("Failed to consume interrupt", "task_id", taskID, "error", err)
		return
	}
	r.agentEvent(ctx, taskID, "", "approval.decided", map[string]any{
		"interrupt_id": interruptID,
		"approve":      approve,
	})

	step := r.findInterruptedStep(ctx, taskID)

	if approve {
		if step != nil {
			env, err := r.loadEnv(ctx, taskID)
			if err != nil {
				r.failTask(ctx, taskID, err.Error())
				return
			}
			// Replay the pending call from the persisted step row, then
			// hand control back to the loop with the refreshed history.
			r.runPendingStep(ctx, taskID, env, step)
		}
	} else {
		if step != nil {
			r.chat(ctx, taskID, "system", "The tool call `"+step.Tool+"` was rejected by the user. Do not retry it; adjust the approach or finish with what is available.")
		} else {
			r.chat(ctx, taskID, "system", "The pending tool call was rejected by the user.")
		}
	}

	r.Run(ctx, taskID)
}

// Continue re-enters the loop after a follow-up user message. The message
// itself is already in the chat history.
func (r *Runner) Continue(ctx context.Context, taskID, message string) {
	t, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Error("Failed to load task for continue", "task_id", taskID, "error", err)
		return
	}
	if t.Status.Terminal() {
		return
	}
	r.Run(ctx, taskID)
}

// findInterruptedStep locates the step parked by the interrupt: the
// waiting_approval row on the approve path, or the most recently failed
// rejection on the reject path.
func (r *Runner) findInterruptedStep(ctx context.Context, taskID string) *models.Step {
	steps, err := r.steps.ListByTask(ctx, taskID)
	if err != nil {
		slog.Warn("Failed to list steps for resume", "task_id", taskID, "error", err)
		return nil
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == models.StepWaitingApproval {
			return steps[i]
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == models.StepFailed {
			return steps[i]
		}
	}
	return nil
}

// runPendingStep executes the approved call outside the live transcript;
// its result lands in the chat history so the next loop turn observes it.
func (r *Runner) runPendingStep(ctx context.Context, taskID string, env *runEnv, step *models.Step) {
	if _, err := r.steps.Update(ctx, step.ID, services.StepUpdate{
		Status:           ptr(models.StepPending),
		RequiresApproval: ptr(false),
	}); err != nil {
		slog.Error("Failed to reset approved step", "step_id", step.ID, "error", err)
		return
	}
	call := callFromStep(step)
	var sink []llm.Message
	r.executeStep(ctx, taskID, env, step, call, &sink)
}

// callFromStep rebuilds the tool call mirrored by a step row. The call ID
// is the suffix of the step name assigned in upsertStep.
func callFromStep(step *models.Step) llm.ToolCall {
	id := step.Name
	if i := strings.LastIndex(step.Name, " #"); i >= 0 {
		id = step.Name[i+2:]
	}
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      step.Tool,
			Arguments: string(step.Args),
		},
	}
}
