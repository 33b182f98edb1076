package models

import (
	"encoding/json"
	"time"
)

// Event types recorded in the event log.
const (
	EventTaskUpdate        = "task_update"
	EventStepUpdate        = "step_update"
	EventApprovalRequested = "approval_requested"
	EventApprovalDecided   = "approval_decided"
	EventChatMessage       = "chat_message"
	EventAgentEvent        = "agent_event"
)

// Event is one durable event-log row. Seq is the DB-assigned cursor clients
// use to resume replay; it is strictly monotonic per task.
type Event struct {
	Seq     int64           `json:"seq"`
	TaskID  string          `json:"task_id"`
	StepID  string          `json:"step_id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      time.Time       `json:"ts"`
}
