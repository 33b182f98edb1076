package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// adminTokenFile receives the generated admin token so a local operator can
// find it without reading logs.
const adminTokenFile = "ui_admin_token.txt"

// EnsureAdminToken returns the admin token to enforce on mutating routes.
// When none is configured it generates one, persists it under the data dir,
// and reuses the persisted value on later starts.
func EnsureAdminToken(dataDir, configured string) (string, error) {
	if t := strings.TrimSpace(configured); t != "" {
		return t, nil
	}

	path := filepath.Join(dataDir, adminTokenFile)
	if raw, err := os.ReadFile(path); err == nil {
		if t := strings.TrimSpace(string(raw)); t != "" {
			return t, nil
		}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate admin token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist admin token: %w", err)
	}
	return token, nil
}
