// Package syncconfig persists cloud sync credentials next to the database.
//
// The credentials live in sync_config.json in the same directory as the
// database file. A missing or unreadable file means local-only mode; it is
// never an error.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the sidecar file holding the credentials.
const FileName = "sync_config.json"

// SyncConfig holds the remote primary URL and its auth token.
type SyncConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Enabled reports whether both fields are set. A config with either field
// empty is treated as no config at all.
func (c *SyncConfig) Enabled() bool {
	return c != nil && c.URL != "" && c.Token != ""
}

// Path returns the sidecar path for the database at dbPath.
func Path(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), FileName)
}

// Load reads the sidecar for dbPath. It returns nil when the file does not
// exist or does not parse.
func Load(dbPath string) *SyncConfig {
	// #nosec G304 - path derived from the application's database path
	data, err := os.ReadFile(Path(dbPath))
	if err != nil {
		return nil
	}

	var cfg SyncConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

// Save writes url and token to the sidecar for dbPath, replacing any
// existing file. The contents are not validated.
//
// The file is written next to the sidecar and renamed over it, so readers
// see either the old or the new config, never a partial one.
func Save(dbPath, url, token string) error {
	data, err := json.Marshal(SyncConfig{URL: url, Token: token})
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// CreateTemp uses mode 0600
	tmp, err := os.CreateTemp(dir, "."+FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp sync config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write sync config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close sync config: %w", err)
	}

	if err := os.Rename(tmpPath, Path(dbPath)); err != nil {
		return fmt.Errorf("failed to replace sync config: %w", err)
	}
	return nil
}

// Redact describes a token for logs without revealing it.
func Redact(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("<%d chars>", len(token))
}
