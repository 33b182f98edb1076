package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
)

// EventService reads the durable event log. Appending goes through
// events.Publisher so live subscribers observe only committed rows.
type EventService struct {
	db *database.Client
}

// NewEventService creates an EventService.
func NewEventService(db *database.Client) *EventService {
	return &EventService{db: db}
}

const eventColumns = `seq, task_id, step_id, type, payload_json, ts`

func scanEvent(scan func(dest ...any) error) (*models.Event, error) {
	var e models.Event
	var payload string
	if err := scan(&e.Seq, &e.TaskID, &e.StepID, &e.Type, &payload, &e.TS); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// ListEvents returns a task's events ordered by seq ascending. afterSeq
// resumes past a cursor; tail returns only the newest `limit` rows (still
// ascending).
func (s *EventService) ListEvents(ctx context.Context, taskID string, afterSeq int64, limit int, tail bool) ([]models.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	q := `SELECT ` + eventColumns + ` FROM event_log WHERE task_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`
	if tail {
		q = `SELECT ` + eventColumns + ` FROM (
			SELECT ` + eventColumns + ` FROM event_log WHERE task_id = ? AND seq > ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	}

	rows, err := s.db.DB().QueryContext(ctx, q, taskID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListEventsAfter implements events.CatchupQuerier.
func (s *EventService) ListEventsAfter(ctx context.Context, taskID string, afterSeq int64, limit int) ([]models.Event, error) {
	return s.ListEvents(ctx, taskID, afterSeq, limit, false)
}

// ListChatMessages returns the newest chat_message events in chronological
// order, capped at limit. The agent-loop backend rebuilds its conversation
// from these.
func (s *EventService) ListChatMessages(ctx context.Context, taskID string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM event_log WHERE task_id = ? AND type = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		taskID, models.EventChatMessage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan event: %w", scanErr)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
