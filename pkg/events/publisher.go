package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
)

// Publisher appends events to the durable event log and then emits them on
// the in-process Bus. The append commits before the emit, so live
// subscribers never observe an event whose row is not yet durable.
type Publisher struct {
	db  *database.Client
	bus *Bus
}

// NewPublisher creates a Publisher over the store and bus.
func NewPublisher(db *database.Client, bus *Bus) *Publisher {
	return &Publisher{db: db, bus: bus}
}

// Append persists one event row and broadcasts it. Returns the assigned seq.
func (p *Publisher) Append(ctx context.Context, taskID, stepID, eventType string, payload any) (int64, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	now := time.Now().UTC()
	var seq int64
	err = database.WithRetry(ctx, func() error {
		res, execErr := p.db.DB().ExecContext(ctx,
			`INSERT INTO event_log (task_id, step_id, type, payload_json, ts) VALUES (?, ?, ?, ?, ?)`,
			taskID, stepID, eventType, string(payloadJSON), now)
		if execErr != nil {
			return execErr
		}
		seq, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append %s event: %w", eventType, err)
	}

	p.bus.Emit(BusEvent{
		Type:   eventType,
		TaskID: taskID,
		Seq:    seq,
		Data:   payloadJSON,
		TS:     now,
	})
	return seq, nil
}

// PublishTaskUpdate records a task_update event carrying the full task.
func (p *Publisher) PublishTaskUpdate(ctx context.Context, task *models.Task) (int64, error) {
	return p.Append(ctx, task.ID, "", models.EventTaskUpdate, task)
}

// PublishStepUpdate records a step_update event carrying the full step.
func (p *Publisher) PublishStepUpdate(ctx context.Context, step *models.Step) (int64, error) {
	return p.Append(ctx, step.TaskID, step.ID, models.EventStepUpdate, step)
}

// PublishApprovalRequested records an approval_requested event.
func (p *Publisher) PublishApprovalRequested(ctx context.Context, a *models.Approval) (int64, error) {
	return p.Append(ctx, a.TaskID, a.StepID, models.EventApprovalRequested, a)
}

// PublishApprovalDecided records an approval_decided event.
func (p *Publisher) PublishApprovalDecided(ctx context.Context, a *models.Approval) (int64, error) {
	return p.Append(ctx, a.TaskID, a.StepID, models.EventApprovalDecided, a)
}

// ChatMessagePayload is the payload of a chat_message event. The agent-loop
// backend reconstructs its conversation history from these rows.
type ChatMessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PublishChatMessage records one conversation turn.
func (p *Publisher) PublishChatMessage(ctx context.Context, taskID, role, content string) (int64, error) {
	return p.Append(ctx, taskID, "", models.EventChatMessage, ChatMessagePayload{Role: role, Content: content})
}

// AgentEventPayload wraps a backend-native event mirrored into the log.
type AgentEventPayload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// PublishAgentEvent mirrors an agent-loop backend event as agent_event.
func (p *Publisher) PublishAgentEvent(ctx context.Context, taskID, stepID, event string, data map[string]any) (int64, error) {
	return p.Append(ctx, taskID, stepID, models.EventAgentEvent, AgentEventPayload{Event: event, Data: data})
}
