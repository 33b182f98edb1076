package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// TaskService manages task rows. Every committed update publishes a
// task_update event to the log and the live bus.
type TaskService struct {
	db        *database.Client
	publisher *events.Publisher

	// ArtifactsDir is the root under which tools drop per-task artifacts.
	artifactsDir string
}

// NewTaskService creates a TaskService.
func NewTaskService(db *database.Client, publisher *events.Publisher, artifactsDir string) *TaskService {
	return &TaskService{db: db, publisher: publisher, artifactsDir: artifactsDir}
}

const taskColumns = `id, workspace_id, skill_id, status, mode, goal, plan_json,
	current_step, output_path, error, backend, backend_run_id, backend_thread_id,
	backend_interrupt_id, backend_resume_token, backend_last_offset, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var planJSON sql.NullString
	if err := scan(&t.ID, &t.WorkspaceID, &t.SkillID, &t.Status, &t.Mode, &t.Goal, &planJSON,
		&t.CurrentStep, &t.OutputPath, &t.Error, &t.Backend, &t.BackendRunID, &t.BackendThreadID,
		&t.BackendInterruptID, &t.BackendResumeToken, &t.BackendLastOffset, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if planJSON.Valid && planJSON.String != "" {
		var plan models.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err == nil {
			t.Plan = &plan
		}
	}
	return &t, nil
}

// Create inserts a queued task and publishes its first task_update.
func (s *TaskService) Create(ctx context.Context, workspaceID, skillID, goal, mode string, backend models.Backend) (*models.Task, error) {
	if goal == "" {
		return nil, NewValidationError("goal", "required")
	}
	if mode == "" {
		mode = "fast"
	}
	if mode != "fast" && mode != "pro" {
		return nil, NewValidationError("mode", "must be fast or pro")
	}
	if backend == "" {
		backend = models.BackendClassic
	}

	now := time.Now().UTC()
	t := &models.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		SkillID:     skillID,
		Status:      models.TaskQueued,
		Mode:        mode,
		Goal:        goal,
		Backend:     backend,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO tasks (id, workspace_id, skill_id, status, mode, goal, backend, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.WorkspaceID, t.SkillID, t.Status, t.Mode, t.Goal, t.Backend, t.CreatedAt, t.UpdatedAt)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if _, err := s.publisher.PublishTaskUpdate(ctx, t); err != nil {
		slog.Warn("Failed to publish task creation", "task_id", t.ID, "error", err)
	}
	return t, nil
}

// Get returns a task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// List returns tasks newest first.
func (s *TaskService) List(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListByStatus returns tasks in any of the given statuses, oldest first.
// Used by the startup orphan sweep.
func (s *TaskService) ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]*models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status IN (?` +
		stringsRepeat(",?", len(statuses)-1) + `) ORDER BY created_at ASC`
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// TaskUpdate lists the fields Update may change. Nil pointers are left
// untouched; updated_at is always bumped.
type TaskUpdate struct {
	Status             *models.TaskStatus
	Plan               *models.Plan
	CurrentStep        *int
	OutputPath         *string
	Error              *string
	BackendRunID       *string
	BackendThreadID    *string
	BackendInterruptID *string
	BackendResumeToken *string
	BackendLastOffset  *int64
}

// Update applies the non-nil fields, bumps updated_at, and publishes a
// task_update event carrying the fresh row.
func (s *TaskService) Update(ctx context.Context, id string, upd TaskUpdate) (*models.Task, error) {
	set := "updated_at = ?"
	args := []any{time.Now().UTC()}

	add := func(col string, v any) {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Plan != nil {
		planJSON, err := json.Marshal(upd.Plan)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal plan: %w", err)
		}
		add("plan_json", string(planJSON))
	}
	if upd.CurrentStep != nil {
		add("current_step", *upd.CurrentStep)
	}
	if upd.OutputPath != nil {
		add("output_path", *upd.OutputPath)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.BackendRunID != nil {
		add("backend_run_id", *upd.BackendRunID)
	}
	if upd.BackendThreadID != nil {
		add("backend_thread_id", *upd.BackendThreadID)
	}
	if upd.BackendInterruptID != nil {
		add("backend_interrupt_id", *upd.BackendInterruptID)
	}
	if upd.BackendResumeToken != nil {
		add("backend_resume_token", *upd.BackendResumeToken)
	}
	if upd.BackendLastOffset != nil {
		add("backend_last_offset", *upd.BackendLastOffset)
	}

	args = append(args, id)
	err := database.WithRetry(ctx, func() error {
		res, execErr := s.db.DB().ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr == nil && n == 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return execErr
	})
	if err != nil {
		return nil, err
	}

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.publisher.PublishTaskUpdate(ctx, t); err != nil {
		slog.Warn("Failed to publish task update", "task_id", id, "error", err)
	}
	return t, nil
}

// Delete removes a task and its dependents, then best-effort removes the
// task's outputs and artifacts directories. Deleting an absent task is a
// no-op.
func (s *TaskService) Delete(ctx context.Context, id string, workspacePath string) error {
	if workspacePath != "" {
		outDir := filepath.Join(workspacePath, "outputs", id)
		if err := os.RemoveAll(outDir); err != nil {
			slog.Warn("Failed to remove task outputs", "task_id", id, "dir", outDir, "error", err)
		}
	}
	if s.artifactsDir != "" {
		artDir := filepath.Join(s.artifactsDir, id)
		if err := os.RemoveAll(artDir); err != nil {
			slog.Warn("Failed to remove task artifacts", "task_id", id, "dir", artDir, "error", err)
		}
	}

	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}
