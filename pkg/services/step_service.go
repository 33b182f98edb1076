package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// StepService manages step rows. Updates publish step_update events.
type StepService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewStepService creates a StepService.
func NewStepService(db *database.Client, publisher *events.Publisher) *StepService {
	return &StepService{db: db, publisher: publisher}
}

const stepColumns = `id, task_id, idx, name, tool, args_json, status,
	requires_approval, result_json, error, created_at, updated_at`

func scanStep(scan func(dest ...any) error) (*models.Step, error) {
	var st models.Step
	var args string
	var result sql.NullString
	var requires int
	if err := scan(&st.ID, &st.TaskID, &st.Idx, &st.Name, &st.Tool, &args, &st.Status,
		&requires, &result, &st.Error, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Args = json.RawMessage(args)
	st.RequiresApproval = requires != 0
	if result.Valid {
		st.Result = json.RawMessage(result.String)
	}
	return &st, nil
}

// Insert persists plan steps starting at startIdx and returns the rows.
func (s *StepService) Insert(ctx context.Context, taskID string, steps []models.PlanStep, startIdx int) ([]*models.Step, error) {
	now := time.Now().UTC()
	out := make([]*models.Step, 0, len(steps))

	err := database.WithRetry(ctx, func() error {
		tx, txErr := s.db.DB().BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		out = out[:0]
		for i, ps := range steps {
			args := ps.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			st := &models.Step{
				ID:               uuid.New().String(),
				TaskID:           taskID,
				Idx:              startIdx + i,
				Name:             ps.Name,
				Tool:             ps.Tool,
				Args:             args,
				Status:           models.StepPending,
				RequiresApproval: ps.RequiresApproval,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			requires := 0
			if st.RequiresApproval {
				requires = 1
			}
			if _, txErr = tx.ExecContext(ctx,
				`INSERT INTO steps (id, task_id, idx, name, tool, args_json, status, requires_approval, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				st.ID, st.TaskID, st.Idx, st.Name, st.Tool, string(st.Args), st.Status, requires,
				st.CreatedAt, st.UpdatedAt); txErr != nil {
				return txErr
			}
			out = append(out, st)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert steps: %w", err)
	}
	return out, nil
}

// Get returns a step by ID.
func (s *StepService) Get(ctx context.Context, id string) (*models.Step, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	st, err := scanStep(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("step %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return st, nil
}

// ListByTask returns a task's steps ordered by idx.
func (s *StepService) ListByTask(ctx context.Context, taskID string) ([]*models.Step, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE task_id = ? ORDER BY idx ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var out []*models.Step
	for rows.Next() {
		st, scanErr := scanStep(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan step: %w", scanErr)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// FindByName returns the most recent step with the given name, or ErrNotFound.
// The agent-loop backend names steps after its own step IDs and uses this to
// upsert on resume.
func (s *StepService) FindByName(ctx context.Context, taskID, name string) (*models.Step, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE task_id = ? AND name = ? ORDER BY idx DESC LIMIT 1`,
		taskID, name)
	st, err := scanStep(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find step: %w", err)
	}
	return st, nil
}

// StepUpdate lists the fields Update may change.
type StepUpdate struct {
	Status           *models.StepStatus
	RequiresApproval *bool
	Result           json.RawMessage
	Error            *string
}

// Update applies the non-nil fields, bumps updated_at, and publishes a
// step_update event carrying the fresh row.
func (s *StepService) Update(ctx context.Context, id string, upd StepUpdate) (*models.Step, error) {
	set := "updated_at = ?"
	args := []any{time.Now().UTC()}
	add := func(col string, v any) {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.RequiresApproval != nil {
		v := 0
		if *upd.RequiresApproval {
			v = 1
		}
		add("requires_approval", v)
	}
	if upd.Result != nil {
		add("result_json", string(upd.Result))
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}

	args = append(args, id)
	err := database.WithRetry(ctx, func() error {
		res, execErr := s.db.DB().ExecContext(ctx, `UPDATE steps SET `+set+` WHERE id = ?`, args...)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr == nil && n == 0 {
			return fmt.Errorf("step %s: %w", id, ErrNotFound)
		}
		return execErr
	})
	if err != nil {
		return nil, err
	}

	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.publisher.PublishStepUpdate(ctx, st); err != nil {
		slog.Warn("Failed to publish step update", "step_id", id, "error", err)
	}
	return st, nil
}

// DeleteByIdx removes the steps with the given idx values.
func (s *StepService) DeleteByIdx(ctx context.Context, taskID string, idxs []int) error {
	if len(idxs) == 0 {
		return nil
	}
	return database.WithRetry(ctx, func() error {
		tx, err := s.db.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, idx := range idxs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM steps WHERE task_id = ? AND idx = ?`, taskID, idx); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// DeleteFromIdx removes every step with idx >= from.
func (s *StepService) DeleteFromIdx(ctx context.Context, taskID string, from int) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx,
			`DELETE FROM steps WHERE task_id = ? AND idx >= ?`, taskID, from)
		return err
	})
}

// MaxIdx returns the highest step idx for a task, or -1 when it has none.
func (s *StepService) MaxIdx(ctx context.Context, taskID string) (int, error) {
	var max sql.NullInt64
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT MAX(idx) FROM steps WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to get max step idx: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// Count returns the number of steps in a task.
func (s *StepService) Count(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count steps: %w", err)
	}
	return n, nil
}
