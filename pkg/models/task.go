// Package models defines the persisted entities and their status enums.
package models

import "time"

// TaskStatus is the run lifecycle state.
type TaskStatus string

const (
	TaskQueued          TaskStatus = "queued"
	TaskPlanning        TaskStatus = "planning"
	TaskRunning         TaskStatus = "running"
	TaskWaitingApproval TaskStatus = "waiting_approval"
	TaskSucceeded       TaskStatus = "succeeded"
	TaskFailed          TaskStatus = "failed"
	TaskCanceled        TaskStatus = "canceled"
)

// Terminal reports whether the status is absorbing.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCanceled
}

// Backend selects the engine variant driving a task.
type Backend string

const (
	BackendClassic Backend = "classic"
	BackendAgent   Backend = "agent"
)

// Task is a single user-initiated run driven to a terminal state.
type Task struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	SkillID     string     `json:"skill_id"`
	Status      TaskStatus `json:"status"`
	Mode        string     `json:"mode"`
	Goal        string     `json:"goal"`
	Plan        *Plan      `json:"plan,omitempty"`
	CurrentStep int        `json:"current_step"`
	OutputPath  string     `json:"output_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	Backend     Backend    `json:"backend"`

	// Agent-loop backend bookkeeping. InterruptID and ResumeToken are set
	// while the loop is suspended on an approval and cleared on resume.
	BackendRunID       string `json:"backend_run_id,omitempty"`
	BackendThreadID    string `json:"backend_thread_id,omitempty"`
	BackendInterruptID string `json:"backend_interrupt_id,omitempty"`
	BackendResumeToken string `json:"backend_resume_token,omitempty"`
	BackendLastOffset  int64  `json:"backend_last_offset"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
