package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// ApprovalService manages approval rows and their events.
type ApprovalService struct {
	db        *database.Client
	publisher *events.Publisher
}

// NewApprovalService creates an ApprovalService.
func NewApprovalService(db *database.Client, publisher *events.Publisher) *ApprovalService {
	return &ApprovalService{db: db, publisher: publisher}
}

const approvalColumns = `id, task_id, step_id, status, decision, reason, requested_at, decided_at`

func scanApproval(scan func(dest ...any) error) (*models.Approval, error) {
	var a models.Approval
	var decided sql.NullTime
	if err := scan(&a.ID, &a.TaskID, &a.StepID, &a.Status, &a.Decision, &a.Reason,
		&a.RequestedAt, &decided); err != nil {
		return nil, err
	}
	if decided.Valid {
		a.DecidedAt = &decided.Time
	}
	return &a, nil
}

// Request creates a pending approval for a step and publishes
// approval_requested. An existing pending approval for the step is reused,
// keeping at most one pending approval per step.
func (s *ApprovalService) Request(ctx context.Context, taskID, stepID string) (*models.Approval, error) {
	if existing, err := s.LatestForStep(ctx, stepID); err == nil &&
		existing.Status == models.ApprovalPending {
		return existing, nil
	}

	a := &models.Approval{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		StepID:      stepID,
		Status:      models.ApprovalPending,
		RequestedAt: time.Now().UTC(),
	}
	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO approvals (id, task_id, step_id, status, requested_at) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.TaskID, a.StepID, a.Status, a.RequestedAt)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	if _, err := s.publisher.PublishApprovalRequested(ctx, a); err != nil {
		slog.Warn("Failed to publish approval request", "approval_id", a.ID, "error", err)
	}
	return a, nil
}

// Decide resolves the latest approval of a step. Deciding an already-decided
// approval is a no-op returning the stored row, so repeated submissions of
// the same decision are idempotent.
func (s *ApprovalService) Decide(ctx context.Context, stepID, decision, reason string) (*models.Approval, error) {
	a, err := s.LatestForStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.ApprovalPending {
		return a, nil
	}

	status := models.ApprovalRejected
	if decision == "approve" || decision == "approved" {
		status = models.ApprovalApproved
	}
	now := time.Now().UTC()

	err = database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`UPDATE approvals SET status = ?, decision = ?, reason = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
			status, decision, reason, now, a.ID)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval: %w", err)
	}

	a.Status = status
	a.Decision = decision
	a.Reason = reason
	a.DecidedAt = &now

	if _, err := s.publisher.PublishApprovalDecided(ctx, a); err != nil {
		slog.Warn("Failed to publish approval decision", "approval_id", a.ID, "error", err)
	}
	return a, nil
}

// LatestForStep returns the most recent approval for a step.
func (s *ApprovalService) LatestForStep(ctx context.Context, stepID string) (*models.Approval, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE step_id = ? ORDER BY requested_at DESC LIMIT 1`, stepID)
	a, err := scanApproval(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("approval for step %s: %w", stepID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

// LatestPendingForTask returns the newest pending approval of a task.
func (s *ApprovalService) LatestPendingForTask(ctx context.Context, taskID string) (*models.Approval, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE task_id = ? AND status = 'pending' ORDER BY requested_at DESC LIMIT 1`,
		taskID)
	a, err := scanApproval(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pending approval for task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return a, nil
}

// ListByTask returns a task's approvals newest first.
func (s *ApprovalService) ListByTask(ctx context.Context, taskID string) ([]*models.Approval, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE task_id = ? ORDER BY requested_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		a, scanErr := scanApproval(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", scanErr)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
