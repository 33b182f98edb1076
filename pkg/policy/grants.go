package policy

import (
	"sync"

	"github.com/agentworkbench/workbench/pkg/models"
)

// Grants is the per-task ask-once cache: once a scope is approved within a
// task, further tools in the same scope run unattended. Grants live in
// memory only and die with the task.
type Grants struct {
	mu    sync.Mutex
	tasks map[string]map[models.Scope]bool
}

// NewGrants creates an empty grant set.
func NewGrants() *Grants {
	return &Grants{tasks: make(map[string]map[models.Scope]bool)}
}

// Grant records an approved scope for a task.
func (g *Grants) Grant(taskID string, scope models.Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tasks[taskID] == nil {
		g.tasks[taskID] = make(map[models.Scope]bool)
	}
	g.tasks[taskID][scope] = true
}

// Granted reports whether the scope was approved earlier in this task.
func (g *Grants) Granted(taskID string, scope models.Scope) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tasks[taskID][scope]
}

// ClearTask drops all grants of a finished task.
func (g *Grants) ClearTask(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, taskID)
}
