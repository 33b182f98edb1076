package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// ScheduleService manages schedule rows for the cron scheduler.
type ScheduleService struct {
	db *database.Client
}

// NewScheduleService creates a ScheduleService.
func NewScheduleService(db *database.Client) *ScheduleService {
	return &ScheduleService{db: db}
}

const scheduleColumns = `id, name, cron_expr, workspace_id, skill_id, mode, enabled,
	payload_json, next_run_at, last_run_at, created_at, updated_at`

func scanSchedule(scan func(dest ...any) error) (*models.Schedule, error) {
	var sc models.Schedule
	var enabled int
	var payload sql.NullString
	var nextT, lastT sql.NullTime
	if err := scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.WorkspaceID, &sc.SkillID, &sc.Mode,
		&enabled, &payload, &nextT, &lastT, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	sc.Enabled = enabled != 0
	if payload.Valid {
		sc.Payload = []byte(payload.String)
	}
	if nextT.Valid {
		t := nextT.Time
		sc.NextRunAt = &t
	}
	if lastT.Valid {
		t := lastT.Time
		sc.LastRunAt = &t
	}
	return &sc, nil
}

// Create inserts a schedule.
func (s *ScheduleService) Create(ctx context.Context, sc *models.Schedule) (*models.Schedule, error) {
	if sc.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if sc.CronExpr == "" {
		return nil, NewValidationError("cron_expr", "required")
	}
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if sc.Mode == "" {
		sc.Mode = "fast"
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	var payload any
	if len(sc.Payload) > 0 {
		payload = string(sc.Payload)
	}
	enabled := 0
	if sc.Enabled {
		enabled = 1
	}

	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO schedules (id, name, cron_expr, workspace_id, skill_id, mode, enabled, payload_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.Name, sc.CronExpr, sc.WorkspaceID, sc.SkillID, sc.Mode, enabled, payload,
			sc.CreatedAt, sc.UpdatedAt)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return sc, nil
}

// Get returns a schedule by ID.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sc, nil
}

// List returns schedules; enabledOnly filters to enabled ones.
func (s *ScheduleService) List(ctx context.Context, enabledOnly bool) ([]*models.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sc, scanErr := scanSchedule(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", scanErr)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SetRunTimes records the fire bookkeeping after a tick.
func (s *ScheduleService) SetRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx,
			`UPDATE schedules SET last_run_at = COALESCE(?, last_run_at), next_run_at = ?, updated_at = ? WHERE id = ?`,
			timeOrNil(lastRunAt), timeOrNil(nextRunAt), time.Now().UTC(), id)
		return err
	})
}

// SetEnabled flips the enabled flag; the scheduler disables schedules whose
// cron no longer parses.
func (s *ScheduleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx,
			`UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`, v, time.Now().UTC(), id)
		return err
	})
}

// Delete removes a schedule.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
		return err
	})
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
