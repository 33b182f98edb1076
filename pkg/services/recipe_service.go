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

// RecipeService manages named goal templates.
type RecipeService struct {
	db *database.Client
}

// NewRecipeService creates a RecipeService.
func NewRecipeService(db *database.Client) *RecipeService {
	return &RecipeService{db: db}
}

const recipeColumns = `id, name, goal, workspace_id, skill_id, mode, created_at, updated_at`

func scanRecipe(scan func(dest ...any) error) (*models.Recipe, error) {
	var r models.Recipe
	if err := scan(&r.ID, &r.Name, &r.Goal, &r.WorkspaceID, &r.SkillID, &r.Mode,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a recipe.
func (s *RecipeService) Create(ctx context.Context, r *models.Recipe) (*models.Recipe, error) {
	if r.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if r.Goal == "" {
		return nil, NewValidationError("goal", "required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`INSERT INTO recipes (id, name, goal, workspace_id, skill_id, mode, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Goal, r.WorkspaceID, r.SkillID, r.Mode, r.CreatedAt, r.UpdatedAt)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe: %w", err)
	}
	return r, nil
}

// Get returns a recipe by ID.
func (s *RecipeService) Get(ctx context.Context, id string) (*models.Recipe, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id)
	r, err := scanRecipe(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("recipe %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	return r, nil
}

// List returns all recipes, oldest first.
func (s *RecipeService) List(ctx context.Context) ([]*models.Recipe, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var out []*models.Recipe
	for rows.Next() {
		r, scanErr := scanRecipe(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", scanErr)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update replaces a recipe's mutable fields.
func (s *RecipeService) Update(ctx context.Context, r *models.Recipe) (*models.Recipe, error) {
	r.UpdatedAt = time.Now().UTC()
	err := database.WithRetry(ctx, func() error {
		res, execErr := s.db.DB().ExecContext(ctx,
			`UPDATE recipes SET name = ?, goal = ?, workspace_id = ?, skill_id = ?, mode = ?, updated_at = ? WHERE id = ?`,
			r.Name, r.Goal, r.WorkspaceID, r.SkillID, r.Mode, r.UpdatedAt, r.ID)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr == nil && n == 0 {
			return fmt.Errorf("recipe %s: %w", r.ID, ErrNotFound)
		}
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a recipe.
func (s *RecipeService) Delete(ctx context.Context, id string) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id)
		return err
	})
}
