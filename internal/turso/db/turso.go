// Package db wraps the two database engines tally runs on.
//
// A ledger database is either a plain local file (local-only mode) or an
// embedded replica of a remote libSQL primary (cloud mode). Both are exposed
// through the Database interface so the rest of the application only ever
// sees a *sql.DB plus a Sync primitive.
//
// Architecture:
//   - Local files: ncruces/go-sqlite3, WAL mode, foreign keys on every
//     pooled connection via DSN pragmas
//   - Embedded replicas: tursodatabase/go-libsql, single connection,
//     explicit Sync() round-trips to the primary
//
// File layout next to the database file (accounts.db):
//
//	accounts.db-wal, accounts.db-shm   WAL side files
//	accounts.db-sync/, accounts.db-info sync engine metadata
//	accounts.db.legacy                  quarantined previous database
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrSyncUnsupported is returned by Sync on a database that was opened
	// without a remote primary.
	ErrSyncUnsupported = errors.New("sync not supported in File mode")

	// ErrConflict marks a local/remote generation divergence. Engines that
	// can recognise it structurally wrap it; the text-only libSQL engine
	// does not, and classification falls back to message matching.
	ErrConflict = errors.New("sync state conflict")
)

// Database is a live handle on a ledger database.
type Database interface {
	// Conn returns the connection pool used for all queries.
	Conn() *sql.DB
	// Path returns the database file path.
	Path() string
	// Synced reports whether the handle replicates to a remote primary.
	Synced() bool
	// Sync performs one synchronization with the remote primary.
	// Local databases return ErrSyncUnsupported.
	Sync(ctx context.Context) error
	// Close releases the handle.
	Close() error
}

// Engine builds Database handles.
type Engine interface {
	// OpenLocal opens or creates a local-only database file.
	OpenLocal(ctx context.Context, path string) (Database, error)
	// OpenReplica builds an embedded replica of the primary at url bound
	// to the local file at path. It does not sync.
	OpenReplica(ctx context.Context, path, url, token string) (Database, error)
}

// LibSQL is the production Engine.
type LibSQL struct {
	// Logger receives non-fatal warnings (WAL checkpoint failures on close).
	Logger *log.Logger

	// builds counts replica builds still running in the engine after their
	// caller gave up on them.
	builds sync.WaitGroup
}

// NewLibSQL returns the production engine logging to stderr.
func NewLibSQL() *LibSQL {
	return &LibSQL{Logger: log.New(os.Stderr, "[db] ", log.LstdFlags)}
}

// localDB is a local-only database file.
type localDB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// OpenLocal opens (creating if needed) the database file at path.
//
// The parent directory is created when missing. The returned handle has WAL
// enabled, a 5 second busy timeout, and foreign key enforcement on every
// connection in the pool.
func (e *LibSQL) OpenLocal(ctx context.Context, path string) (Database, error) {
	// An abandoned replica build may still be writing the same file.
	e.builds.Wait()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)", path)
	conn, err := openPool(ctx, dsn)
	if err != nil {
		return nil, err
	}

	return &localDB{conn: conn, path: path, logger: e.logger()}, nil
}

// OpenReadOnly opens an existing database file for reading only. It never
// creates the database file.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return openPool(ctx, fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
}

func openPool(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return conn, nil
}

func (e *LibSQL) logger() *log.Logger {
	if e == nil || e.Logger == nil {
		return log.New(os.Stderr, "[db] ", log.LstdFlags)
	}
	return e.Logger
}

func (d *localDB) Conn() *sql.DB { return d.conn }
func (d *localDB) Path() string  { return d.path }
func (d *localDB) Synced() bool  { return false }

func (d *localDB) Sync(ctx context.Context) error {
	return ErrSyncUnsupported
}

// Close checkpoints the WAL and closes the pool.
func (d *localDB) Close() error {
	if d.conn == nil {
		return nil
	}

	if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.conn = nil
	return nil
}

// WALPath returns the write-ahead-log side file of the database at path.
func WALPath(path string) string { return path + "-wal" }

// SHMPath returns the shared-memory side file of the database at path.
func SHMPath(path string) string { return path + "-shm" }

// SyncMetadataDir returns the sync engine's metadata directory for path.
func SyncMetadataDir(path string) string { return path + "-sync" }

// ReplicaInfoPath returns the embedded replica's generation info file.
func ReplicaInfoPath(path string) string { return path + "-info" }

// LegacyPath returns where a quarantined copy of the database lives.
func LegacyPath(path string) string { return path + ".legacy" }
