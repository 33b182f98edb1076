package models

import "time"

// Recipe is a named goal template bound to a workspace and skill.
type Recipe struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Goal        string    `json:"goal"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	SkillID     string    `json:"skill_id,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
