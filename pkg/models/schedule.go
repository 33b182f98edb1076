package models

import (
	"encoding/json"
	"time"
)

// Schedule materializes tasks from a 5-field cron expression.
type Schedule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CronExpr    string          `json:"cron_expr"`
	WorkspaceID string          `json:"workspace_id"`
	SkillID     string          `json:"skill_id"`
	Mode        string          `json:"mode"`
	Enabled     bool            `json:"enabled"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
