package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
)

// MCPServerService manages user-registered MCP server rows.
type MCPServerService struct {
	db *database.Client
}

// NewMCPServerService creates an MCPServerService.
func NewMCPServerService(db *database.Client) *MCPServerService {
	return &MCPServerService{db: db}
}

const mcpServerColumns = `id, name, command, args_json, env_json, healthcheck_args_json, enabled, created_at, updated_at`

func scanMCPServer(scan func(dest ...any) error) (*models.MCPServer, error) {
	var m models.MCPServer
	var args, env, health string
	var enabled int
	if err := scan(&m.ID, &m.Name, &m.Command, &args, &env, &health, &enabled,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Enabled = enabled != 0
	_ = json.Unmarshal([]byte(args), &m.Args)
	_ = json.Unmarshal([]byte(env), &m.Env)
	_ = json.Unmarshal([]byte(health), &m.HealthcheckArgs)
	return &m, nil
}

// Create inserts an MCP server row.
func (s *MCPServerService) Create(ctx context.Context, m *models.MCPServer) (*models.MCPServer, error) {
	if m.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if m.Command == "" {
		return nil, NewValidationError("command", "required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	args, _ := json.Marshal(m.Args)
	env, _ := json.Marshal(m.Env)
	health, _ := json.Marshal(m.HealthcheckArgs)
	enabled := 0
	if m.Enabled {
		enabled = 1
	}

	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO mcp_servers (id, name, command, args_json, env_json, healthcheck_args_json, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Name, m.Command, string(args), string(env), string(health), enabled,
			m.CreatedAt, m.UpdatedAt)
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("mcp server %q: %w", m.Name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create mcp server: %w", err)
	}
	return m, nil
}

// Get returns an MCP server by ID.
func (s *MCPServerService) Get(ctx context.Context, id string) (*models.MCPServer, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+mcpServerColumns+` FROM mcp_servers WHERE id = ?`, id)
	m, err := scanMCPServer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mcp server %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get mcp server: %w", err)
	}
	return m, nil
}

// List returns MCP servers; enabledOnly filters to enabled ones.
func (s *MCPServerService) List(ctx context.Context, enabledOnly bool) ([]*models.MCPServer, error) {
	q := `SELECT ` + mcpServerColumns + ` FROM mcp_servers`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []*models.MCPServer
	for rows.Next() {
		m, scanErr := scanMCPServer(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan mcp server: %w", scanErr)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Update replaces the mutable fields of an MCP server row.
func (s *MCPServerService) Update(ctx context.Context, m *models.MCPServer) (*models.MCPServer, error) {
	args, _ := json.Marshal(m.Args)
	env, _ := json.Marshal(m.Env)
	health, _ := json.Marshal(m.HealthcheckArgs)
	enabled := 0
	if m.Enabled {
		enabled = 1
	}
	m.UpdatedAt = time.Now().UTC()

	err := database.WithRetry(ctx, func() error {
		res, execErr := s.db.DB().ExecContext(ctx,
			`UPDATE mcp_servers SET name = ?, command = ?, args_json = ?, env_json = ?, healthcheck_args_json = ?, enabled = ?, updated_at = ?
			 WHERE id = ?`,
			m.Name, m.Command, string(args), string(env), string(health), enabled, m.UpdatedAt, m.ID)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr == nil && n == 0 {
			return fmt.Errorf("mcp server %s: %w", m.ID, ErrNotFound)
		}
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes an MCP server row.
func (s *MCPServerService) Delete(ctx context.Context, id string) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
		return err
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
