package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
)

type fixture struct {
	db         *database.Client
	bus        *events.Bus
	publisher  *events.Publisher
	workspaces *WorkspaceService
	skills     *SkillService
	tasks      *TaskService
	steps      *StepService
	approvals  *ApprovalService
	events     *EventService

	wsID    string
	skillID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewClient(ctx, database.Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus()
	publisher := events.NewPublisher(db, bus)

	f := &fixture{
		db:         db,
		bus:        bus,
		publisher:  publisher,
		workspaces: NewWorkspaceService(db),
		skills:     NewSkillService(db),
		tasks:      NewTaskService(db, publisher, t.TempDir()),
		steps:      NewStepService(db, publisher),
		approvals:  NewApprovalService(db, publisher),
		events:     NewEventService(db),
	}

	ws, err := f.workspaces.Create(ctx, "ws", filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	f.wsID = ws.ID

	sk, err := f.skills.Create(ctx, &models.Skill{
		Name:         "research",
		SystemPrompt: "do research",
		DefaultMode:  "fast",
	})
	require.NoError(t, err)
	f.skillID = sk.ID
	return f
}

func (f *fixture) createTask(t *testing.T, goal string) *models.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), f.wsID, f.skillID, goal, "fast", models.BackendClassic)
	require.NoError(t, err)
	return task
}

func TestTaskCreateDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, f.wsID, f.skillID, "summarize the repo", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskQueued, task.Status)
	assert.Equal(t, "fast", task.Mode)
	assert.Equal(t, models.BackendClassic, task.Backend)
	assert.NotEmpty(t, task.ID)
}

func TestTaskCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, f.wsID, f.skillID, "", "fast", models.BackendClassic)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "goal", verr.Field)

	_, err = f.tasks.Create(ctx, f.wsID, f.skillID, "goal", "turbo", models.BackendClassic)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "mode", verr.Field)
}

func TestTaskUpdateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "do the thing")

	status := models.TaskRunning
	step := 2
	updated, err := f.tasks.Update(ctx, task.ID, TaskUpdate{Status: &status, CurrentStep: &step})
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, updated.Status)
	assert.Equal(t, 2, updated.CurrentStep)

	got, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, got.Status)
}

func TestTaskUpdateMissing(t *testing.T) {
	f := newFixture(t)
	status := models.TaskRunning
	_, err := f.tasks.Update(context.Background(), "no-such-task", TaskUpdate{Status: &status})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTaskUpdatePublishesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "publish check")

	status := models.TaskPlanning
	_, err := f.tasks.Update(ctx, task.ID, TaskUpdate{Status: &status})
	require.NoError(t, err)

	evts, err := f.events.ListEvents(ctx, task.ID, 0, 100, false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(evts), 2) // creation + update
	assert.Equal(t, models.EventTaskUpdate, evts[len(evts)-1].Type)
}

func TestTaskDeleteCascadesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "delete me")

	_, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "list", Tool: "filesystem.list", Args: json.RawMessage(`{"path":"."}`)},
	}, 0)
	require.NoError(t, err)

	require.NoError(t, f.tasks.Delete(ctx, task.ID, ""))
	_, err = f.tasks.Get(ctx, task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	steps, err := f.steps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	// Deleting again is a no-op.
	assert.NoError(t, f.tasks.Delete(ctx, task.ID, ""))
}

func TestStepInsertAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "steps")

	inserted, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "first", Tool: "filesystem.list"},
		{Name: "second", Tool: "shell.exec", RequiresApproval: true},
	}, 0)
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	listed, err := f.steps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0, listed[0].Idx)
	assert.Equal(t, "first", listed[0].Name)
	assert.Equal(t, models.StepPending, listed[0].Status)
	assert.JSONEq(t, `{}`, string(listed[0].Args))
	assert.True(t, listed[1].RequiresApproval)

	max, err := f.steps.MaxIdx(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	n, err := f.steps.Count(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStepMaxIdxEmpty(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "no steps")

	max, err := f.steps.MaxIdx(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, max)
}

func TestStepUpdateAndFindByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "step update")

	inserted, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "work", Tool: "shell.exec"},
	}, 0)
	require.NoError(t, err)

	status := models.StepSucceeded
	updated, err := f.steps.Update(ctx, inserted[0].ID, StepUpdate{
		Status: &status,
		Result: json.RawMessage(`{"stdout":"done"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepSucceeded, updated.Status)
	assert.JSONEq(t, `{"stdout":"done"}`, string(updated.Result))

	found, err := f.steps.FindByName(ctx, task.ID, "work")
	require.NoError(t, err)
	assert.Equal(t, inserted[0].ID, found.ID)

	_, err = f.steps.FindByName(ctx, task.ID, "absent")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStepDeleteFromIdx(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "trim steps")

	_, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "a", Tool: "t"}, {Name: "b", Tool: "t"}, {Name: "c", Tool: "t"},
	}, 0)
	require.NoError(t, err)

	require.NoError(t, f.steps.DeleteFromIdx(ctx, task.ID, 1))
	left, err := f.steps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].Name)
}

func TestApprovalRequestReusesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "approvals")
	steps, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "risky", Tool: "shell.exec", RequiresApproval: true},
	}, 0)
	require.NoError(t, err)
	stepID := steps[0].ID

	first, err := f.approvals.Request(ctx, task.ID, stepID)
	require.NoError(t, err)
	second, err := f.approvals.Request(ctx, task.ID, stepID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "at most one pending approval per step")
}

func TestApprovalDecideIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "decide")
	steps, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "risky", Tool: "shell.exec", RequiresApproval: true},
	}, 0)
	require.NoError(t, err)
	stepID := steps[0].ID

	_, err = f.approvals.Request(ctx, task.ID, stepID)
	require.NoError(t, err)

	decided, err := f.approvals.Decide(ctx, stepID, "approve", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	// A second decision does not flip the stored outcome.
	again, err := f.approvals.Decide(ctx, stepID, "reject", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, again.Status)
	assert.Equal(t, "approve", again.Decision)
}

func TestApprovalLatestPendingForTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "pending lookup")
	steps, err := f.steps.Insert(ctx, task.ID, []models.PlanStep{
		{Name: "risky", Tool: "shell.exec", RequiresApproval: true},
	}, 0)
	require.NoError(t, err)

	_, err = f.approvals.LatestPendingForTask(ctx, task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	created, err := f.approvals.Request(ctx, task.ID, steps[0].ID)
	require.NoError(t, err)

	pending, err := f.approvals.LatestPendingForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, pending.ID)

	_, err = f.approvals.Decide(ctx, steps[0].ID, "reject", "")
	require.NoError(t, err)
	_, err = f.approvals.LatestPendingForTask(ctx, task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEventLogSeqMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "events")

	var last int64
	for i := 0; i < 5; i++ {
		seq, err := f.publisher.PublishChatMessage(ctx, task.ID, "user", "msg")
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}

	evts, err := f.events.ListEvents(ctx, task.ID, 0, 100, false)
	require.NoError(t, err)
	for i := 1; i < len(evts); i++ {
		assert.Greater(t, evts[i].Seq, evts[i-1].Seq)
	}
}

func TestEventListAfterSeqAndTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "cursor")

	var seqs []int64
	for i := 0; i < 6; i++ {
		seq, err := f.publisher.PublishChatMessage(ctx, task.ID, "assistant", "m")
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	after, err := f.events.ListEvents(ctx, task.ID, seqs[2], 100, false)
	require.NoError(t, err)
	require.NotEmpty(t, after)
	assert.Equal(t, seqs[3], after[0].Seq)

	tail, err := f.events.ListEvents(ctx, task.ID, 0, 2, true)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, seqs[4], tail[0].Seq)
	assert.Equal(t, seqs[5], tail[1].Seq)
}

func TestEventListChatMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "chat history")

	_, err := f.publisher.PublishChatMessage(ctx, task.ID, "user", "question")
	require.NoError(t, err)
	_, err = f.publisher.PublishAgentEvent(ctx, task.ID, "", "tool_start", nil)
	require.NoError(t, err)
	_, err = f.publisher.PublishChatMessage(ctx, task.ID, "assistant", "answer")
	require.NoError(t, err)

	msgs, err := f.events.ListChatMessages(ctx, task.ID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "only chat_message events")

	var payload events.ChatMessagePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	assert.Equal(t, "user", payload.Role)
	assert.Equal(t, "question", payload.Content)
}

func TestWorkspaceCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workspaces.Create(ctx, "", "/tmp/x")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.workspaces.Create(ctx, "x", "")
	assert.True(t, errors.As(err, &verr))
}
