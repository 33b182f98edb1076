package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentworkbench/workbench/pkg/models"
)

func TestScopeFor(t *testing.T) {
	cases := map[string]models.Scope{
		"shell.exec":            models.ScopeShell,
		"ppt.render":            models.ScopeFSWrite,
		"browser.click":         models.ScopeBrowserClick,
		"filesystem.list":       models.ScopeFSRead,
		"filesystem.read_text":  models.ScopeFSRead,
		"filesystem.stat":       models.ScopeFSRead,
		"filesystem.write_text": models.ScopeFSWrite,
		"filesystem.mkdir":      models.ScopeFSWrite,
		"filesystem.move":       models.ScopeFSWrite,
		"filesystem.delete":     models.ScopeFSDelete,
		"web.fetch":             models.ScopeNetwork,
		"web.search":            models.ScopeNetwork,
		"browser.goto":          models.ScopeNetwork,
		"mcp/github/get_issue":  models.ScopeMCP,
		"something.else":        models.ScopeOther,
	}
	for name, want := range cases {
		assert.Equal(t, want, ScopeFor(name), "tool %s", name)
	}
}
