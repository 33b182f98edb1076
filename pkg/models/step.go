package models

import (
	"encoding/json"
	"time"
)

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepRunning         StepStatus = "running"
	StepWaitingApproval StepStatus = "waiting_approval"
	StepSucceeded       StepStatus = "succeeded"
	StepFailed          StepStatus = "failed"
)

// Step is one unit of work in a task's plan. Idx is unique per task and
// orders execution; patches may append steps or replace a suffix.
type Step struct {
	ID               string          `json:"id"`
	TaskID           string          `json:"task_id"`
	Idx              int             `json:"idx"`
	Name             string          `json:"name"`
	Tool             string          `json:"tool"`
	Args             json.RawMessage `json:"args"`
	Status           StepStatus      `json:"status"`
	RequiresApproval bool            `json:"requires_approval"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
