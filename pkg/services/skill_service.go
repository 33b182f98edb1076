package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SkillService manages skill rows and the skill_meta side table.
type SkillService struct {
	db *database.Client
}

// NewSkillService creates a SkillService.
func NewSkillService(db *database.Client) *SkillService {
	return &SkillService{db: db}
}

const skillColumns = `s.id, s.name, s.description, s.source_file, s.system_prompt,
	s.allowed_tools_json, s.default_mode, s.created_at,
	COALESCE(m.enabled, 1), COALESCE(m.source, '')`

func scanSkill(scan func(dest ...any) error) (*models.Skill, error) {
	var sk models.Skill
	var allowedJSON string
	var enabled int
	if err := scan(&sk.ID, &sk.Name, &sk.Description, &sk.SourceFile, &sk.SystemPrompt,
		&allowedJSON, &sk.DefaultMode, &sk.CreatedAt, &enabled, &sk.Source); err != nil {
		return nil, err
	}
	sk.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(allowedJSON), &sk.AllowedTools); err != nil {
		sk.AllowedTools = nil
	}
	return &sk, nil
}

// Create inserts a skill. An empty allowedTools slice means "all tools".
func (s *SkillService) Create(ctx context.Context, sk *models.Skill) (*models.Skill, error) {
	if sk.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if sk.ID == "" {
		sk.ID = uuid.New().String()
	}
	if sk.DefaultMode == "" {
		sk.DefaultMode = "fast"
	}
	if sk.DefaultMode != "fast" && sk.DefaultMode != "pro" {
		return nil, NewValidationError("default_mode", "must be fast or pro")
	}
	sk.CreatedAt = time.Now().UTC()
	sk.Enabled = true

	allowedJSON, err := json.Marshal(sk.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed_tools: %w", err)
	}

	err = database.WithRetry(ctx, func() error {
		tx, txErr := s.db.DB().BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		if _, txErr = tx.ExecContext(ctx,
			`INSERT INTO skills (id, name, description, source_file, system_prompt, allowed_tools_json, default_mode, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sk.ID, sk.Name, sk.Description, sk.SourceFile, sk.SystemPrompt,
			string(allowedJSON), sk.DefaultMode, sk.CreatedAt); txErr != nil {
			return txErr
		}
		if _, txErr = tx.ExecContext(ctx,
			`INSERT INTO skill_meta (skill_id, enabled, source) VALUES (?, 1, ?)
			 ON CONFLICT(skill_id) DO UPDATE SET source = excluded.source`,
			sk.ID, sk.Source); txErr != nil {
			return txErr
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create skill: %w", err)
	}
	return sk, nil
}

// Get returns a skill by ID, including side-table metadata.
func (s *SkillService) Get(ctx context.Context, id string) (*models.Skill, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+skillColumns+` FROM skills s LEFT JOIN skill_meta m ON m.skill_id = s.id WHERE s.id = ?`, id)
	sk, err := scanSkill(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("skill %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get skill: %w", err)
	}
	return sk, nil
}

// List returns skills ordered by creation time. enabledOnly filters on the
// side table, defaulting missing rows to enabled.
func (s *SkillService) List(ctx context.Context, enabledOnly bool) ([]*models.Skill, error) {
	q := `SELECT ` + skillColumns + ` FROM skills s LEFT JOIN skill_meta m ON m.skill_id = s.id`
	if enabledOnly {
		q += ` WHERE COALESCE(m.enabled, 1) = 1`
	}
	q += ` ORDER BY s.created_at ASC`

	rows, err := s.db.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()

	var out []*models.Skill
	for rows.Next() {
		sk, scanErr := scanSkill(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", scanErr)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// SetEnabled flips the enabled flag in the side table.
func (s *SkillService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx,
			`INSERT INTO skill_meta (skill_id, enabled, source) VALUES (?, ?, '')
			 ON CONFLICT(skill_id) DO UPDATE SET enabled = excluded.enabled`,
			id, val)
		return err
	})
}

// Delete removes a skill (side table cascades).
func (s *SkillService) Delete(ctx context.Context, id string) error {
	return database.WithRetry(ctx, func() error {
		_, err := s.db.DB().ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id)
		return err
	})
}

// skillFrontmatter is the YAML header of an importable skill file.
type skillFrontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed_tools"`
	DefaultMode  string   `yaml:"default_mode"`
}

// ImportFile parses a skill file (YAML frontmatter between "---" markers,
// body is the system prompt) and upserts it as a skill sourced from that
// file.
func (s *SkillService) ImportFile(ctx context.Context, path string) (*models.Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read skill file: %w", err)
	}

	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, err
	}

	var meta skillFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return nil, fmt.Errorf("invalid skill frontmatter: %w", err)
	}
	if meta.Name == "" {
		return nil, NewValidationError("name", "missing in frontmatter")
	}

	sk := &models.Skill{
		Name:         meta.Name,
		Description:  meta.Description,
		SourceFile:   path,
		SystemPrompt: strings.TrimSpace(body),
		AllowedTools: meta.AllowedTools,
		DefaultMode:  meta.DefaultMode,
		Source:       "file",
	}
	return s.Create(ctx, sk)
}

// Reload re-imports a skill from its source file in place.
func (s *SkillService) Reload(ctx context.Context, id string) (*models.Skill, error) {
	sk, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sk.SourceFile == "" {
		return nil, fmt.Errorf("skill %s has no source file: %w", id, ErrInvalidInput)
	}

	raw, err := os.ReadFile(sk.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read skill file: %w", err)
	}
	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, err
	}
	var meta skillFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return nil, fmt.Errorf("invalid skill frontmatter: %w", err)
	}

	allowedJSON, err := json.Marshal(meta.AllowedTools)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allowed_tools: %w", err)
	}
	err = database.WithRetry(ctx, func() error {
		_, execErr := s.db.DB().ExecContext(ctx,
			`UPDATE skills SET name = ?, description = ?, system_prompt = ?, allowed_tools_json = ? WHERE id = ?`,
			meta.Name, meta.Description, strings.TrimSpace(body), string(allowedJSON), id)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reload skill: %w", err)
	}
	return s.Get(ctx, id)
}

// splitFrontmatter separates a "---"-delimited YAML header from the body.
func splitFrontmatter(text string) (frontmatter, body string, err error) {
	trimmed := strings.TrimLeft(text, "\uFEFF\n\r ")
	if !strings.HasPrefix(trimmed, "---") {
		// No header — the whole file is the prompt.
		return "", text, nil
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter: %w", ErrInvalidInput)
	}
	fm := rest[:end]
	after := rest[end+len("\n---"):]
	if i := strings.IndexByte(after, '\n'); i >= 0 {
		after = after[i+1:]
	}
	return fm, after, nil
}
