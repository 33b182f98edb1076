package models

import "time"

// Scope is the coarse permission domain a tool belongs to.
type Scope string

const (
	ScopeShell        Scope = "shell"
	ScopeFSRead       Scope = "fs_read"
	ScopeFSWrite      Scope = "fs_write"
	ScopeFSDelete     Scope = "fs_delete"
	ScopeBrowserClick Scope = "browser_click"
	ScopeNetwork      Scope = "network"
	ScopeMCP          Scope = "mcp"
	ScopeOther        Scope = "other"
)

// PolicyKind is the per-workspace stance for one scope.
type PolicyKind string

const (
	PolicyAskOnce     PolicyKind = "ask_once"
	PolicyAlwaysAllow PolicyKind = "always_allow"
	PolicyAlwaysDeny  PolicyKind = "always_deny"
)

// WorkspacePolicy binds a scope to a policy within one workspace.
type WorkspacePolicy struct {
	WorkspaceID string     `json:"workspace_id"`
	Scope       Scope      `json:"scope"`
	Policy      PolicyKind `json:"policy"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
