package models

import "time"

// Skill bundles a system prompt with a tool allowlist and a default mode.
// An empty AllowedTools means every registered tool is available.
type Skill struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SourceFile   string    `json:"source_file,omitempty"`
	SystemPrompt string    `json:"system_prompt"`
	AllowedTools []string  `json:"allowed_tools"`
	DefaultMode  string    `json:"default_mode"`
	CreatedAt    time.Time `json:"created_at"`

	// Side-table metadata.
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
}
