package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// WorkspaceService manages workspace rows and their backing directories.
type WorkspaceService struct {
	db *database.Client
}

// NewWorkspaceService creates a WorkspaceService.
func NewWorkspaceService(db *database.Client) *WorkspaceService {
	return &WorkspaceService{db: db}
}

// Create inserts a workspace and ensures its directory exists.
func (s *WorkspaceService) Create(ctx context.Context, name, path string) (*models.Workspace, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	if path == "" {
		return nil, NewValidationError("path", "required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	ws := &models.Workspace{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO workspaces (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
			ws.ID, ws.Name, ws.Path, ws.CreatedAt)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, nil
}

// Get returns a workspace by ID.
func (s *WorkspaceService) Get(ctx context.Context, id string) (*models.Workspace, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM workspaces WHERE id = ?`, id)
	var ws models.Workspace
	if err := row.Scan(&ws.ID, &ws.Name, &ws.Path, &ws.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// List returns all workspaces ordered by creation time.
func (s *WorkspaceService) List(ctx context.Context) ([]*models.Workspace, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT id, name, path, created_at FROM workspaces ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Path, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, &ws)
	}
	return out, rows.Err()
}

// Delete removes a workspace row. Tasks cascade; workspace files stay.
func (s *WorkspaceService) Delete(ctx context.Context, id string) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
		return err
	})
}
