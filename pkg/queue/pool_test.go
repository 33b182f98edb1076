package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	pool := NewPool(2, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	done := make(chan string, 1)
	require.NoError(t, pool.Submit("task-1", func(context.Context) {
		done <- "task-1"
	}))

	select {
	case id := <-done:
		assert.Equal(t, "task-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("submitted work never ran")
	}
}

func TestPoolSubmitFullQueue(t *testing.T) {
	// No workers started, so jobs pile up in the queue.
	pool := NewPool(1, 2, nil)

	require.NoError(t, pool.Submit("a", func(context.Context) {}))
	require.NoError(t, pool.Submit("b", func(context.Context) {}))
	err := pool.Submit("c", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Stop()

	err := pool.Submit("late", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping")
}

func TestPoolPanicHandler(t *testing.T) {
	var mu sync.Mutex
	var gotTask, gotMsg string
	pool := NewPool(1, 8, func(taskID, msg string) {
		mu.Lock()
		gotTask, gotMsg = taskID, msg
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Submit("doomed", func(context.Context) {
		panic("kaboom")
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotTask != ""
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "doomed", gotTask)
	assert.Contains(t, gotMsg, "kaboom")
	pool.Stop()
}

func TestPoolCancelActiveTask(t *testing.T) {
	pool := NewPool(1, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	running := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, pool.Submit("long", func(jobCtx context.Context) {
		close(running)
		<-jobCtx.Done()
		close(canceled)
	}))

	<-running
	assert.True(t, pool.Cancel("long"))
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not canceled")
	}

	assert.False(t, pool.Cancel("unknown"))
}

func TestSweepOrphansRelaunchesActiveStatuses(t *testing.T) {
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
	ws, err := services.NewWorkspaceService(db).Create(ctx, "ws", filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	sk, err := services.NewSkillService(db).Create(ctx, &models.Skill{Name: "s", SystemPrompt: "p"})
	require.NoError(t, err)
	tasks := services.NewTaskService(db, publisher, t.TempDir())

	makeTask := func(status models.TaskStatus) string {
		task, err := tasks.Create(ctx, ws.ID, sk.ID, "goal", "fast", models.BackendClassic)
		require.NoError(t, err)
		if status != models.TaskQueued {
			_, err = tasks.Update(ctx, task.ID, services.TaskUpdate{Status: &status})
			require.NoError(t, err)
		}
		return task.ID
	}
	queued := makeTask(models.TaskQueued)
	running := makeTask(models.TaskRunning)
	makeTask(models.TaskSucceeded)
	makeTask(models.TaskWaitingApproval)

	var relaunched []string
	require.NoError(t, SweepOrphans(ctx, tasks, func(_ context.Context, taskID string) error {
		relaunched = append(relaunched, taskID)
		return nil
	}))

	assert.ElementsMatch(t, []string{queued, running}, relaunched)
}
