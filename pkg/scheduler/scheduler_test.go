package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

type fakeStarter struct {
	started []string // "workspace/skill/goal/mode"
	err     error
}

func (f *fakeStarter) StartScheduled(_ context.Context, workspaceID, skillID, goal, mode string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, workspaceID+"/"+skillID+"/"+goal+"/"+mode)
	return "task-" + goal, nil
}

func newScheduleFixture(t *testing.T) (*services.ScheduleService, string, string) {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewClient(ctx, database.Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	workspaces := services.NewWorkspaceService(db)
	ws, err := workspaces.Create(ctx, "ws", filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	skills := services.NewSkillService(db)
	sk, err := skills.Create(ctx, &models.Skill{
		Name:         "research",
		SystemPrompt: "do research",
		AllowedTools: []string{"web.fetch"},
		DefaultMode:  "fast",
	})
	require.NoError(t, err)

	return services.NewScheduleService(db), ws.ID, sk.ID
}

func TestTickOnceSeedsNextRun(t *testing.T) {
	schedules, wsID, skID := newScheduleFixture(t)
	ctx := context.Background()

	sch, err := schedules.Create(ctx, &models.Schedule{
		Name:        "hourly",
		CronExpr:    "0 * * * *",
		WorkspaceID: wsID,
		SkillID:     skID,
		Enabled:     true,
	})
	require.NoError(t, err)

	starter := &fakeStarter{}
	s := New(schedules, starter, time.Second)
	require.NoError(t, s.TickOnce(ctx))

	// First tick only seeds next_run_at; nothing fires yet.
	assert.Empty(t, starter.started)
	got, err := schedules.Get(ctx, sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, 0, got.NextRunAt.Minute())
}

func TestTickOnceFiresDueSchedule(t *testing.T) {
	schedules, wsID, skID := newScheduleFixture(t)
	ctx := context.Background()

	sch, err := schedules.Create(ctx, &models.Schedule{
		Name:        "backup",
		CronExpr:    "* * * * *",
		WorkspaceID: wsID,
		SkillID:     skID,
		Mode:        "pro",
		Enabled:     true,
		Payload:     []byte(`{"goal":"nightly backup"}`),
	})
	require.NoError(t, err)

	due := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, schedules.SetRunTimes(ctx, sch.ID, nil, &due))

	starter := &fakeStarter{}
	s := New(schedules, starter, time.Second)
	require.NoError(t, s.TickOnce(ctx))

	require.Len(t, starter.started, 1)
	assert.Equal(t, wsID+"/"+skID+"/nightly backup/pro", starter.started[0])

	got, err := schedules.Get(ctx, sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(*got.LastRunAt))
}

func TestTickOnceGoalFallsBackToName(t *testing.T) {
	schedules, wsID, skID := newScheduleFixture(t)
	ctx := context.Background()

	sch, err := schedules.Create(ctx, &models.Schedule{
		Name:        "weekly digest",
		CronExpr:    "* * * * *",
		WorkspaceID: wsID,
		SkillID:     skID,
		Enabled:     true,
	})
	require.NoError(t, err)
	due := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, schedules.SetRunTimes(ctx, sch.ID, nil, &due))

	starter := &fakeStarter{}
	s := New(schedules, starter, time.Second)
	require.NoError(t, s.TickOnce(ctx))

	require.Len(t, starter.started, 1)
	assert.Contains(t, starter.started[0], "Scheduled run: weekly digest")
	assert.Contains(t, starter.started[0], "/fast")
}

func TestTickOnceDisablesInvalidCron(t *testing.T) {
	schedules, wsID, skID := newScheduleFixture(t)
	ctx := context.Background()

	sch, err := schedules.Create(ctx, &models.Schedule{
		Name:        "broken",
		CronExpr:    "not a cron",
		WorkspaceID: wsID,
		SkillID:     skID,
		Enabled:     true,
	})
	require.NoError(t, err)

	starter := &fakeStarter{}
	s := New(schedules, starter, time.Second)
	require.NoError(t, s.TickOnce(ctx))

	got, err := schedules.Get(ctx, sch.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Empty(t, starter.started)
}

func TestTickOnceSkipsDisabled(t *testing.T) {
	schedules, wsID, skID := newScheduleFixture(t)
	ctx := context.Background()

	sch, err := schedules.Create(ctx, &models.Schedule{
		Name:        "paused",
		CronExpr:    "* * * * *",
		WorkspaceID: wsID,
		SkillID:     skID,
		Enabled:     false,
	})
	require.NoError(t, err)
	due := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, schedules.SetRunTimes(ctx, sch.ID, nil, &due))

	starter := &fakeStarter{}
	s := New(schedules, starter, time.Second)
	require.NoError(t, s.TickOnce(ctx))
	assert.Empty(t, starter.started)
}

func TestStartStop(t *testing.T) {
	schedules, _, _ := newScheduleFixture(t)
	s := New(schedules, &fakeStarter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Stop() // must not hang or panic
}
