package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

// DefaultTickInterval is how often due schedules are checked.
const DefaultTickInterval = 5 * time.Second

// TaskStarter creates and launches tasks for due schedules. Implemented
// by the agent engine plus task service in main.
type TaskStarter interface {
	StartScheduled(ctx context.Context, workspaceID, skillID, goal, mode string) (string, error)
}

// Scheduler runs the tick loop on a single goroutine; ticks never overlap.
type Scheduler struct {
	schedules *services.ScheduleService
	starter   TaskStarter
	interval  time.Duration
	done      chan struct{}
	stopped   chan struct{}
}

// New creates a Scheduler. interval <= 0 selects the default.
func New(schedules *services.ScheduleService, starter TaskStarter, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		schedules: schedules,
		starter:   starter,
		interval:  interval,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.TickOnce(ctx); err != nil {
					slog.Error("Scheduler tick failed", "error", err)
				}
			}
		}
	}()
}

// Stop terminates the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	close(s.done)
	<-s.stopped
}

// TickOnce processes every enabled schedule: seeds missing next-fire
// times, starts due tasks, and disables schedules whose expression stopped
// parsing.
func (s *Scheduler) TickOnce(ctx context.Context) error {
	now := time.Now().UTC().Truncate(time.Minute)
	schedules, err := s.schedules.List(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}
	for _, sch := range schedules {
		if err := s.tickSchedule(ctx, sch, now); err != nil {
			slog.Error("Schedule processing failed", "schedule_id", sch.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) tickSchedule(ctx context.Context, sch *models.Schedule, now time.Time) error {
	if sch.NextRunAt == nil {
		// First sighting: seed next_run_at from a minute ago so an
		// expression matching the current minute still fires this tick.
		next, err := s.computeNext(sch.CronExpr, now.Add(-time.Minute))
		if err != nil {
			return s.disable(ctx, sch, err)
		}
		return s.schedules.SetRunTimes(ctx, sch.ID, nil, &next)
	}
	if sch.NextRunAt.After(now) {
		return nil
	}

	goal := scheduleGoal(sch)
	mode := sch.Mode
	if mode == "" {
		mode = "fast"
	}
	taskID, err := s.starter.StartScheduled(ctx, sch.WorkspaceID, sch.SkillID, goal, mode)
	if err != nil {
		return fmt.Errorf("failed to start scheduled task: %w", err)
	}
	slog.Info("Schedule fired", "schedule_id", sch.ID, "task_id", taskID)

	next, err := s.computeNext(sch.CronExpr, now)
	if err != nil {
		if err := s.schedules.SetRunTimes(ctx, sch.ID, &now, nil); err != nil {
			slog.Warn("Failed to record last run", "schedule_id", sch.ID, "error", err)
		}
		return s.disable(ctx, sch, err)
	}
	return s.schedules.SetRunTimes(ctx, sch.ID, &now, &next)
}

func (s *Scheduler) computeNext(expr string, after time.Time) (time.Time, error) {
	cron, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cron.NextAfter(after)
}

// disable turns off a schedule whose cron expression failed; anything
// else propagates.
func (s *Scheduler) disable(ctx context.Context, sch *models.Schedule, cause error) error {
	var cronErr *CronError
	if !errors.As(cause, &cronErr) {
		return cause
	}
	slog.Warn("Disabling schedule with invalid cron", "schedule_id", sch.ID, "cron", sch.CronExpr, "error", cause)
	return s.schedules.SetEnabled(ctx, sch.ID, false)
}

// scheduleGoal takes the goal from payload.goal, falling back to a name
// based default.
func scheduleGoal(sch *models.Schedule) string {
	if len(sch.Payload) > 0 {
		var payload struct {
			Goal string `json:"goal"`
		}
		if json.Unmarshal(sch.Payload, &payload) == nil && payload.Goal != "" {
			return payload.Goal
		}
	}
	return "Scheduled run: " + sch.Name
}
