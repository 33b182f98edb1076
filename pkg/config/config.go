// Package config loads application settings from the environment, with a
// small allow-listed overlay persisted in runtime_env.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings holds every tunable the process reads at startup. Values come
// from the environment (after godotenv and the runtime overlay are applied).
type Settings struct {
	AppName string
	Host    string
	Port    int

	DataDir       string
	DBPath        string
	WorkspacesDir string
	ArtifactsDir  string
	LogsDir       string

	// LLM provider (OpenAI-compatible).
	LLMBaseURL      string
	LLMAPIKey       string
	ModelFast       string
	ModelPro        string
	ModelVision     string
	ModelEmbeddings string
	ModelImage      string
	ModelAudio      string
	ModelVideo      string

	// Execution and safety.
	ShellAllow       bool
	ShellDockerImage string

	BrowserEnabled   bool
	BrowserHeadless  bool
	BrowserTimeout   time.Duration

	RequireApprovalShell        bool
	RequireApprovalFSWrite      bool
	RequireApprovalFSDelete     bool
	RequireApprovalBrowserClick bool

	SchedulerEnabled      bool
	SchedulerTickInterval time.Duration

	UIAdminToken string
}

// Load reads settings from the environment and creates the storage
// directories. Call after godotenv and ApplyRuntimeEnv.
func Load() (*Settings, error) {
	dataDir := envStr("DATA_DIR", filepath.Join(mustCwd(), "data"))

	s := &Settings{
		AppName: envStr("APP_NAME", "Agent Workbench"),
		Host:    envStr("APP_HOST", "0.0.0.0"),
		Port:    envInt("APP_PORT", 8787),

		DataDir:       dataDir,
		DBPath:        envStr("DB_PATH", filepath.Join(dataDir, "workbench.db")),
		WorkspacesDir: envStr("WORKSPACES_DIR", filepath.Join(dataDir, "workspaces")),
		ArtifactsDir:  envStr("ARTIFACTS_DIR", filepath.Join(dataDir, "artifacts")),
		LogsDir:       envStr("LOGS_DIR", filepath.Join(dataDir, "logs")),

		LLMBaseURL:      envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:       envStr("OPENAI_API_KEY", ""),
		ModelFast:       envStr("OPENAI_MODEL_FAST", "gpt-4o-mini"),
		ModelPro:        envStr("OPENAI_MODEL_PRO", "gpt-4o"),
		ModelVision:     envStr("OPENAI_MODEL_VISION", envStr("OPENAI_MODEL_PRO", "gpt-4o")),
		ModelEmbeddings: envStr("OPENAI_MODEL_EMBEDDINGS", "text-embedding-3-small"),
		ModelImage:      envStr("OPENAI_MODEL_IMAGE", envStr("OPENAI_MODEL_PRO", "gpt-4o")),
		ModelAudio:      envStr("OPENAI_MODEL_AUDIO_TRANSCRIBE", envStr("OPENAI_MODEL_PRO", "gpt-4o")),
		ModelVideo:      envStr("OPENAI_MODEL_VIDEO", envStr("OPENAI_MODEL_PRO", "gpt-4o")),

		ShellAllow:       envBool("SHELL_ALLOW", true),
		ShellDockerImage: envStr("SHELL_DOCKER_IMAGE", ""),

		BrowserEnabled:  envBool("BROWSER_ENABLED", true),
		BrowserHeadless: envBool("BROWSER_HEADLESS", true),
		BrowserTimeout:  time.Duration(envInt("BROWSER_TIMEOUT_MS", 45000)) * time.Millisecond,

		RequireApprovalShell:        envBool("REQUIRE_APPROVAL_SHELL", true),
		RequireApprovalFSWrite:      envBool("REQUIRE_APPROVAL_FS_WRITE", true),
		RequireApprovalFSDelete:     envBool("REQUIRE_APPROVAL_FS_DELETE", true),
		RequireApprovalBrowserClick: envBool("REQUIRE_APPROVAL_BROWSER_CLICK", true),

		SchedulerEnabled:      envBool("SCHEDULER_ENABLED", true),
		SchedulerTickInterval: time.Duration(envInt("SCHEDULER_TICK_SECONDS", 5)) * time.Second,

		UIAdminToken: envStr("UI_ADMIN_TOKEN", ""),
	}

	for _, dir := range []string{s.DataDir, s.WorkspacesDir, s.ArtifactsDir, s.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Addr returns the host:port listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIKeyIsPlaceholder reports whether the configured LLM key is obviously
// unconfigured. The skill router degrades to its keyword heuristic in that
// case instead of burning a request on a guaranteed 401.
func (s *Settings) APIKeyIsPlaceholder() bool {
	key := strings.TrimSpace(s.LLMAPIKey)
	if key == "" {
		return true
	}
	low := strings.ToLower(key)
	if low == "changeme" || low == "change_me" || low == "sk-xxx" {
		return true
	}
	return strings.HasPrefix(low, "sk-your-")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func mustCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
