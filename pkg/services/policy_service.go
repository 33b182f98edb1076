package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
)

// PolicyService manages per-workspace scope policies.
type PolicyService struct {
	db *database.Client
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(db *database.Client) *PolicyService {
	return &PolicyService{db: db}
}

// DefaultPolicy returns the built-in stance for a scope when no workspace
// row overrides it: network and plain filesystem access run unattended,
// everything else asks once per task.
func DefaultPolicy(scope models.Scope) models.PolicyKind {
	switch scope {
	case models.ScopeNetwork, models.ScopeFSRead, models.ScopeFSWrite:
		return models.PolicyAlwaysAllow
	default:
		return models.PolicyAskOnce
	}
}

// Get returns the effective policy for (workspace, scope), falling back to
// the scope default when no row exists.
func (s *PolicyService) Get(ctx context.Context, workspaceID string, scope models.Scope) (models.PolicyKind, error) {
	var policy models.PolicyKind
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT policy FROM workspace_policies WHERE workspace_id = ? AND scope = ?`,
		workspaceID, scope).Scan(&policy)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPolicy(scope), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get policy: %w", err)
	}
	return policy, nil
}

// Set upserts the policy for (workspace, scope).
func (s *PolicyService) Set(ctx context.Context, workspaceID string, scope models.Scope, policy models.PolicyKind) error {
	switch policy {
	case models.PolicyAskOnce, models.PolicyAlwaysAllow, models.PolicyAlwaysDeny:
	default:
		return NewValidationError("policy", "must be ask_once, always_allow or always_deny")
	}

	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx,
			`INSERT INTO workspace_policies (workspace_id, scope, policy, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(workspace_id, scope) DO UPDATE SET policy = excluded.policy, updated_at = excluded.updated_at`,
			workspaceID, scope, policy, time.Now().UTC())
		return err
	})
}

// List returns all stored policies for a workspace.
func (s *PolicyService) List(ctx context.Context, workspaceID string) ([]*models.WorkspacePolicy, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT workspace_id, scope, policy, updated_at FROM workspace_policies WHERE workspace_id = ? ORDER BY scope ASC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkspacePolicy
	for rows.Next() {
		var p models.WorkspacePolicy
		if err := rows.Scan(&p.WorkspaceID, &p.Scope, &p.Policy, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
