package tools

import (
	"strings"

	"github.com/agentworkbench/workbench/pkg/models"
)

// ScopeFor maps a tool name to its coarse permission scope. Exact matches
// win over suffix and prefix rules.
func ScopeFor(name string) models.Scope {
	switch name {
	case "shell.exec":
		return models.ScopeShell
	case "ppt.render":
		return models.ScopeFSWrite
	case "browser.click":
		return models.ScopeBrowserClick
	}

	switch {
	case strings.HasSuffix(name, ".list"),
		strings.HasSuffix(name, ".read_text"),
		strings.HasSuffix(name, ".stat"):
		return models.ScopeFSRead
	case strings.HasSuffix(name, ".write_text"),
		strings.HasSuffix(name, ".mkdir"),
		strings.HasSuffix(name, ".move"):
		return models.ScopeFSWrite
	case strings.HasSuffix(name, ".delete"):
		return models.ScopeFSDelete
	case strings.HasPrefix(name, "web."), strings.HasPrefix(name, "browser."):
		return models.ScopeNetwork
	case strings.HasPrefix(name, "mcp/"):
		return models.ScopeMCP
	}
	return models.ScopeOther
}
