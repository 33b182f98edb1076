package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClientAppliesMigrations(t *testing.T) {
	client := openTestClient(t)

	for _, table := range []string{
		"workspaces", "skills", "tasks", "steps", "approvals",
		"schedules", "event_log", "workspace_policies", "mcp_servers", "recipes",
	} {
		var name string
		err := client.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestNewClientReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := Config{Path: path, BusyTimeoutMS: 5000, MaxOpenConns: 1}

	first, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, path, second.Path())
	require.NoError(t, second.Close())
}

func TestForeignKeysEnforced(t *testing.T) {
	client := openTestClient(t)

	_, err := client.DB().Exec(
		`INSERT INTO tasks (id, workspace_id, skill_id, status, mode, goal, backend, created_at, updated_at)
		 VALUES ('t1', 'no-such-ws', 'no-such-skill', 'queued', 'fast', 'g', 'classic', datetime('now'), datetime('now'))`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")
}

func TestHealth(t *testing.T) {
	client := openTestClient(t)

	status, err := Health(context.Background(), client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
}

func TestWithRetryPassesThroughNonBusyErrors(t *testing.T) {
	sentinel := errors.New("constraint violation")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesBusy(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	err := WithRetry(context.Background(), func() error {
		return errors.New("database table is locked")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("DATA_DIR", "/srv/wb")
	cfg := LoadConfigFromEnv()
	assert.Equal(t, filepath.Join("/srv/wb", "workbench.db"), cfg.Path)
	assert.Equal(t, 5000, cfg.BusyTimeoutMS)
	assert.Equal(t, 1, cfg.MaxOpenConns)

	t.Setenv("DB_PATH", "/tmp/custom.db")
	cfg = LoadConfigFromEnv()
	assert.Equal(t, "/tmp/custom.db", cfg.Path)
}
