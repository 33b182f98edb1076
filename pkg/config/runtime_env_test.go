package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuntimeEnvMissingFile(t *testing.T) {
	out := LoadRuntimeEnv(t.TempDir())
	assert.Empty(t, out)
}

func TestLoadRuntimeEnvCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtime_env.json"), []byte("{broken"), 0o600))
	assert.Empty(t, LoadRuntimeEnv(dir))
}

func TestUpdateRuntimeEnvDropsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")

	out, err := UpdateRuntimeEnv(dir, map[string]string{
		"OPENAI_API_KEY": "sk-test-123",
		"DATA_DIR":       "/etc/evil",
		"PATH":           "/bin",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OPENAI_API_KEY": "sk-test-123"}, out)

	// The persisted file round-trips with only the allow-listed key.
	reloaded := LoadRuntimeEnv(dir)
	assert.Equal(t, out, reloaded)
}

func TestUpdateRuntimeEnvMergesAndApplies(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_MODEL_FAST", "")
	t.Setenv("OPENAI_BASE_URL", "")

	_, err := UpdateRuntimeEnv(dir, map[string]string{"OPENAI_BASE_URL": "http://localhost:9999/v1"})
	require.NoError(t, err)
	_, err = UpdateRuntimeEnv(dir, map[string]string{"OPENAI_MODEL_FAST": "gpt-4o-mini"})
	require.NoError(t, err)

	reloaded := LoadRuntimeEnv(dir)
	assert.Equal(t, "http://localhost:9999/v1", reloaded["OPENAI_BASE_URL"])
	assert.Equal(t, "gpt-4o-mini", reloaded["OPENAI_MODEL_FAST"])
	assert.Equal(t, "gpt-4o-mini", os.Getenv("OPENAI_MODEL_FAST"))
}

func TestApplyRuntimeEnvExports(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_MODEL_PRO", "")
	_, err := UpdateRuntimeEnv(dir, map[string]string{"OPENAI_MODEL_PRO": "gpt-4o"})
	require.NoError(t, err)
	t.Setenv("OPENAI_MODEL_PRO", "")

	applied := ApplyRuntimeEnv(dir)
	assert.Equal(t, "gpt-4o", applied["OPENAI_MODEL_PRO"])
	assert.Equal(t, "gpt-4o", os.Getenv("OPENAI_MODEL_PRO"))
}

func TestEnsureAdminTokenConfiguredWins(t *testing.T) {
	token, err := EnsureAdminToken(t.TempDir(), "  configured-token  ")
	require.NoError(t, err)
	assert.Equal(t, "configured-token", token)
}

func TestEnsureAdminTokenGeneratesAndReuses(t *testing.T) {
	dir := t.TempDir()

	first, err := EnsureAdminToken(dir, "")
	require.NoError(t, err)
	assert.Len(t, first, 32) // 16 random bytes, hex encoded

	second, err := EnsureAdminToken(dir, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, err := os.ReadFile(filepath.Join(dir, "ui_admin_token.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), first)
}

func TestAPIKeyIsPlaceholder(t *testing.T) {
	cases := map[string]bool{
		"":                 true,
		"   ":              true,
		"changeme":         true,
		"CHANGE_ME":        true,
		"sk-xxx":           true,
		"sk-your-key-here": true,
		"sk-proj-real-key": false,
		"anything-else":    false,
	}
	for key, want := range cases {
		s := &Settings{LLMAPIKey: key}
		assert.Equal(t, want, s.APIKeyIsPlaceholder(), "key %q", key)
	}
}
