package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

// SweepOrphans relaunches tasks stranded by a previous process: anything
// still queued, planning, or running when the process died. The engines
// reload persisted state, so relaunching is idempotent. Tasks waiting on
// an approval stay parked until the user decides.
func SweepOrphans(ctx context.Context, tasks *services.TaskService, relaunch func(ctx context.Context, taskID string) error) error {
	orphans, err := tasks.ListByStatus(ctx, models.TaskQueued, models.TaskPlanning, models.TaskRunning)
	if err != nil {
		return fmt.Errorf("failed to list orphaned tasks: %w", err)
	}
	for _, t := range orphans {
		slog.Info("Relaunching orphaned task", "task_id", t.ID, "status", t.Status)
		if err := relaunch(ctx, t.ID); err != nil {
			slog.Error("Failed to relaunch orphaned task", "task_id", t.ID, "error", err)
		}
	}
	return nil
}
