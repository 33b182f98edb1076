package models

import "time"

// ApprovalStatus is the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a persisted request for user consent before one step runs.
// At most one pending approval exists per step.
type Approval struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	StepID      string         `json:"step_id"`
	Status      ApprovalStatus `json:"status"`
	Decision    string         `json:"decision,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}
