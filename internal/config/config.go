// Package config loads CLI settings with viper.
//
// Priority: command-line flags > TALLY_* environment variables >
// {data-dir}/config.yaml > defaults. Flags are applied by the commands
// themselves; this package covers the rest.
//
// The sync credentials are not part of this configuration. They live in
// sync_config.json next to the database and are managed by syncconfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. TALLY_DATA_DIR.
const EnvPrefix = "TALLY"

// Keys
const (
	KeyDataDir          = "data-dir"
	KeyDBName           = "db-name"
	KeyLogMaxSizeMB     = "log.max-size-mb"
	KeyLogMaxFiles      = "log.max-files"
	KeySyncInterval     = "sync.interval"
	KeySyncCloudTimeout = "sync.cloud-timeout"
	KeyDashboardPort    = "dashboard.port"
)

// DefaultDBName is the main database file name.
const DefaultDBName = "accounts.db"

var v *viper.Viper

// Initialize sets up the package viper instance. It is safe to call again;
// each call starts from a clean instance.
func Initialize() error {
	v = viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyDBName, DefaultDBName)
	v.SetDefault(KeyLogMaxSizeMB, 5)
	v.SetDefault(KeyLogMaxFiles, 3)
	v.SetDefault(KeySyncInterval, 5*time.Minute)
	v.SetDefault(KeySyncCloudTimeout, 2*time.Minute)
	v.SetDefault(KeyDashboardPort, 7420)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString(KeyDataDir))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// DefaultDataDir returns the per-user data directory, falling back to
// ./.tally when no user config directory is available.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "tally")
	}
	return ".tally"
}

// DBPath returns the database file path under the data directory.
func DBPath() string {
	return filepath.Join(GetString(KeyDataDir), GetString(KeyDBName))
}

// ConfigFileUsed returns the loaded config file, or "" when none was found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Set overrides a key for the rest of the process.
func Set(key string, value interface{}) {
	ensure()
	v.Set(key, value)
}

// GetString returns a string setting.
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetInt returns an integer setting.
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetDuration returns a duration setting.
func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}

// AllSettings returns the merged settings.
func AllSettings() map[string]interface{} {
	ensure()
	return v.AllSettings()
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}
