package database

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds database configuration.
type Config struct {
	Path          string
	BusyTimeoutMS int
	MaxOpenConns  int
}

// LoadConfigFromEnv loads database configuration from environment variables.
// DB_PATH wins outright; otherwise the file lives under DATA_DIR.
func LoadConfigFromEnv() Config {
	path := os.Getenv("DB_PATH")
	if path == "" {
		dataDir := getEnvOrDefault("DATA_DIR", "./data")
		path = filepath.Join(dataDir, "workbench.db")
	}

	busy, err := strconv.Atoi(getEnvOrDefault("DB_BUSY_TIMEOUT_MS", "5000"))
	if err != nil || busy < 0 {
		busy = 5000
	}

	return Config{
		Path:          path,
		BusyTimeoutMS: busy,
		MaxOpenConns:  1,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
