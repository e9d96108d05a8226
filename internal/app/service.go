// Package app exposes the ledger storage core to its callers.
//
// Service is the boundary the CLI and the dashboard talk to. It answers with
// descriptive errors: the core's own sentinels (state.ErrNotInitialized,
// state.ErrSyncNotConfigured, migrate.ErrNoLegacy and the validate errors)
// can be matched with errors.Is, while errors coming from the database
// engine are flattened to their message and never cross this boundary as
// engine types.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/tally/internal/logging"
	"github.com/mschirtzinger/tally/internal/turso/migrate"
	"github.com/mschirtzinger/tally/internal/turso/schema"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
	"github.com/mschirtzinger/tally/internal/turso/validate"
)

// Validator checks sync credentials.
type Validator interface {
	Validate(ctx context.Context, url, token string) error
}

// Events receives notifications about user-triggered operations.
type Events interface {
	OnLegacyMigrated(result *migrate.Result)
}

// Config holds the Service's collaborators.
type Config struct {
	Validator Validator
	Events    Events

	// LogPath is the rolling log file served by AppLogs.
	LogPath string

	// Logger for command activity
	Logger *log.Logger
}

// DefaultConfig returns the production validator and a stderr logger.
func DefaultConfig() *Config {
	return &Config{
		Validator: validate.New(),
		Logger:    log.New(os.Stderr, "[app] ", log.LstdFlags),
	}
}

// Service implements the collaborator-facing commands.
type Service struct {
	dbPath string
	state  *state.State
	config *Config
}

// New returns a Service for the database at dbPath.
func New(dbPath string, st *state.State, config *Config) *Service {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Validator == nil {
		config.Validator = defaults.Validator
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Service{dbPath: dbPath, state: st, config: config}
}

// DBPath returns the database file the service manages.
func (s *Service) DBPath() string {
	return s.dbPath
}

// GetSyncConfig returns the stored sync credentials, or nil when none are
// stored or the file cannot be read.
func (s *Service) GetSyncConfig() *syncconfig.SyncConfig {
	return syncconfig.Load(s.dbPath)
}

// ConfigureSync stores new sync credentials.
//
// When both url and token are non-empty they are validated first and a
// validation failure is returned to the caller. Empty values are stored
// as-is, which turns sync off at the next startup. The running database is
// not touched; the new settings take effect on restart.
func (s *Service) ConfigureSync(ctx context.Context, url, token string) error {
	s.config.Logger.Printf("configure sync: url=%s token=%s", url, syncconfig.Redact(token))

	if url != "" && token != "" {
		if err := s.config.Validator.Validate(ctx, url, token); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
	}

	if err := syncconfig.Save(s.dbPath, url, token); err != nil {
		return fmt.Errorf("failed to save sync config: %v", err)
	}

	s.config.Logger.Printf("Sync config saved; restart to apply")
	return nil
}

// SyncDatabase runs one manual sync with the remote primary.
func (s *Service) SyncDatabase(ctx context.Context) error {
	err := s.state.Sync(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrNotInitialized), errors.Is(err, state.ErrSyncNotConfigured):
		return err
	default:
		s.config.Logger.Printf("Manual sync failed: %v", err)
		return flatten(err)
	}
}

// IsCloudSyncEnabled reports whether the live database syncs to a primary.
func (s *Service) IsCloudSyncEnabled() bool {
	return s.state.IsCloudSyncEnabled()
}

// HasLegacyDB reports whether a quarantined database is waiting next to the
// live one.
func (s *Service) HasLegacyDB() bool {
	return migrate.HasLegacy(s.dbPath)
}

// MigrateFromLegacy copies the quarantined database into the live one and
// returns a summary of the rows copied.
func (s *Service) MigrateFromLegacy(ctx context.Context) (string, error) {
	conn, err := s.state.Connection()
	if err != nil {
		return "", err
	}

	result, err := migrate.FromLegacy(ctx, s.dbPath, conn)
	if err != nil {
		if errors.Is(err, migrate.ErrNoLegacy) {
			return "", err
		}
		s.config.Logger.Printf("Legacy migration failed: %v", err)
		return "", flatten(err)
	}

	s.config.Logger.Printf("%s", result)
	if s.config.Events != nil {
		s.config.Events.OnLegacyMigrated(result)
	}
	return result.String(), nil
}

// Status is a snapshot of the storage core.
type Status struct {
	DBPath         string         `json:"db_path" yaml:"db_path"`
	Initialized    bool           `json:"initialized" yaml:"initialized"`
	CloudSync      bool           `json:"cloud_sync" yaml:"cloud_sync"`
	SyncURL        string         `json:"sync_url,omitempty" yaml:"sync_url,omitempty"`
	SyncConfigured bool           `json:"sync_configured" yaml:"sync_configured"`
	LastSync       *time.Time     `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	HasLegacy      bool           `json:"has_legacy" yaml:"has_legacy"`
	Rows           map[string]int `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// Status reports the current state. Row counts are included once the
// database is available.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		DBPath:         s.dbPath,
		CloudSync:      s.state.IsCloudSyncEnabled(),
		SyncURL:        s.state.SyncURL(),
		SyncConfigured: s.GetSyncConfig().Enabled(),
		HasLegacy:      s.HasLegacyDB(),
	}
	if last := s.state.LastSync(); !last.IsZero() {
		st.LastSync = &last
	}

	conn, err := s.state.Connection()
	if err != nil {
		return st, nil
	}
	st.Initialized = true

	rows, err := schema.Counts(ctx, conn)
	if err != nil {
		return st, flatten(fmt.Errorf("failed to count rows: %w", err))
	}
	st.Rows = rows
	return st, nil
}

// AppLogs returns the tail of the application log.
func (s *Service) AppLogs() (string, error) {
	if s.config.LogPath == "" {
		return "", errors.New("file logging is not enabled")
	}
	logs, err := logging.ReadLogs(s.config.LogPath, 0)
	if err != nil {
		return "", flatten(err)
	}
	return logs, nil
}

// flatten drops the error chain, keeping only the message.
func flatten(err error) error {
	return errors.New(err.Error())
}
