package models

import "time"

// MCPServer is a user-managed subprocess tool server. Its tools register
// under the "mcp/<name>/<tool>" namespace.
type MCPServer struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Command         string            `json:"command"`
	Args            []string          `json:"args"`
	Env             map[string]string `json:"env"`
	HealthcheckArgs []string          `json:"healthcheck_args"`
	Enabled         bool              `json:"enabled"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
