package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// runtimeEnvFile is the persisted overlay of user-updatable settings,
// relative to the data dir.
const runtimeEnvFile = "runtime_env.json"

// runtimeEnvAllowed are the only keys the settings endpoint may persist.
// Everything else in the environment stays operator-controlled.
var runtimeEnvAllowed = map[string]bool{
	"OPENAI_BASE_URL":               true,
	"OPENAI_API_KEY":                true,
	"OPENAI_MODEL_FAST":             true,
	"OPENAI_MODEL_PRO":              true,
	"OPENAI_MODEL_VISION":           true,
	"OPENAI_MODEL_EMBEDDINGS":       true,
	"OPENAI_MODEL_IMAGE":            true,
	"OPENAI_MODEL_AUDIO_TRANSCRIBE": true,
	"OPENAI_MODEL_VIDEO":            true,
}

func runtimeEnvPath(dataDir string) string {
	return filepath.Join(dataDir, runtimeEnvFile)
}

// LoadRuntimeEnv reads the persisted overlay, dropping unknown keys. A
// missing or corrupt file yields an empty overlay, never an error: the
// overlay is convenience state, not config of record.
func LoadRuntimeEnv(dataDir string) map[string]string {
	raw, err := os.ReadFile(runtimeEnvPath(dataDir))
	if err != nil {
		return map[string]string{}
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if runtimeEnvAllowed[k] {
			out[k] = v
		}
	}
	return out
}

// ApplyRuntimeEnv loads the overlay and exports it into the process
// environment. Call before Load so the overlay wins over .env defaults.
func ApplyRuntimeEnv(dataDir string) map[string]string {
	applied := LoadRuntimeEnv(dataDir)
	for k, v := range applied {
		if v != "" {
			os.Setenv(k, v)
		}
	}
	return applied
}

// UpdateRuntimeEnv merges allow-listed updates into the overlay, exports
// them, and persists the result. Non-allow-listed keys are ignored.
func UpdateRuntimeEnv(dataDir string, updates map[string]string) (map[string]string, error) {
	cur := LoadRuntimeEnv(dataDir)
	for k, v := range updates {
		if !runtimeEnvAllowed[k] {
			continue
		}
		cur[k] = v
		if v != "" {
			os.Setenv(k, v)
		}
	}

	raw, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode runtime env: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.WriteFile(runtimeEnvPath(dataDir), raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write runtime env: %w", err)
	}
	return cur, nil
}
