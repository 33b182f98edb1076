package policy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

func newPolicyFixture(t *testing.T) (*Engine, *services.PolicyService, string) {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewClient(ctx, database.Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ws, err := services.NewWorkspaceService(db).Create(ctx, "ws", filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	policyService := services.NewPolicyService(db)
	return NewEngine(policyService, NewGrants()), policyService, ws.ID
}

func TestEvaluateDefaultsNonRiskyAuto(t *testing.T) {
	engine, _, wsID := newPolicyFixture(t)
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, wsID, "filesystem.read_text", "task-1", false)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ModeAuto, d.Mode)
	assert.Equal(t, models.ScopeFSRead, d.Scope)
}

func TestEvaluateRiskyRequiresApproval(t *testing.T) {
	engine, _, wsID := newPolicyFixture(t)
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, wsID, "shell.exec", "task-1", true)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ModeRequireApproval, d.Mode)
	assert.Equal(t, models.ScopeShell, d.Scope)
	assert.NotEmpty(t, d.Reason)
}

func TestEvaluateAlwaysAllowSkipsApproval(t *testing.T) {
	engine, policies, wsID := newPolicyFixture(t)
	ctx := context.Background()
	require.NoError(t, policies.Set(ctx, wsID, models.ScopeShell, models.PolicyAlwaysAllow))

	d, err := engine.Evaluate(ctx, wsID, "shell.exec", "task-1", true)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ModeAuto, d.Mode)
}

func TestEvaluateAlwaysDenyBlocksRisky(t *testing.T) {
	engine, policies, wsID := newPolicyFixture(t)
	ctx := context.Background()
	require.NoError(t, policies.Set(ctx, wsID, models.ScopeShell, models.PolicyAlwaysDeny))

	d, err := engine.Evaluate(ctx, wsID, "shell.exec", "task-1", true)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ModeDeny, d.Mode)
}

func TestEvaluateAlwaysDenyLetsNonRiskyThrough(t *testing.T) {
	// always_deny only blocks calls that needed consent; a non-risky
	// fs_read call is unaffected even with a deny row.
	engine, policies, wsID := newPolicyFixture(t)
	ctx := context.Background()
	require.NoError(t, policies.Set(ctx, wsID, models.ScopeFSRead, models.PolicyAlwaysDeny))

	d, err := engine.Evaluate(ctx, wsID, "filesystem.read_text", "task-1", false)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ModeAuto, d.Mode)
}

func TestEvaluateNetworkDeniableOutright(t *testing.T) {
	engine, policies, wsID := newPolicyFixture(t)
	ctx := context.Background()
	require.NoError(t, policies.Set(ctx, wsID, models.ScopeNetwork, models.PolicyAlwaysDeny))

	d, err := engine.Evaluate(ctx, wsID, "web.fetch", "task-1", false)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ModeDeny, d.Mode)
	assert.Equal(t, models.ScopeNetwork, d.Scope)
}

func TestEvaluateNetworkOptInGating(t *testing.T) {
	// Any network stance other than always_allow forces consent, even for
	// calls flagged non-risky.
	engine, policies, wsID := newPolicyFixture(t)
	ctx := context.Background()
	require.NoError(t, policies.Set(ctx, wsID, models.ScopeNetwork, models.PolicyAskOnce))

	d, err := engine.Evaluate(ctx, wsID, "web.fetch", "task-1", false)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ModeRequireApproval, d.Mode)
}

func TestEvaluateNetworkDefaultAllows(t *testing.T) {
	engine, _, wsID := newPolicyFixture(t)
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, wsID, "web.fetch", "task-1", false)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ModeAuto, d.Mode)
}

func TestEvaluateAskOnceGrant(t *testing.T) {
	engine, _, wsID := newPolicyFixture(t)
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, wsID, "shell.exec", "task-1", true)
	require.NoError(t, err)
	require.Equal(t, ModeRequireApproval, d.Mode)

	// A recorded approval covers the whole scope for the rest of the task.
	engine.Grants().Grant("task-1", models.ScopeShell)

	d, err = engine.Evaluate(ctx, wsID, "shell.exec", "task-1", true)
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ModeAuto, d.Mode)

	// But not for other tasks.
	d, err = engine.Evaluate(ctx, wsID, "shell.exec", "task-2", true)
	require.NoError(t, err)
	assert.False(t, d.Allow)
}

func TestGrantsClearTask(t *testing.T) {
	g := NewGrants()
	g.Grant("task-1", models.ScopeShell)
	g.Grant("task-1", models.ScopeFSDelete)
	require.True(t, g.Granted("task-1", models.ScopeShell))

	g.ClearTask("task-1")
	assert.False(t, g.Granted("task-1", models.ScopeShell))
	assert.False(t, g.Granted("task-1", models.ScopeFSDelete))
}
