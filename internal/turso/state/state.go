// Package state holds the process-wide handle on the ledger database.
//
// A State starts empty so that anything asking for the database before
// startup finishes gets ErrNotInitialized instead of blocking or crashing.
// The initializer fills it exactly once with Publish (or gives up with Fail);
// after that it is read concurrently. One State is created per process and
// passed explicitly to everything that needs database access.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/tally/internal/turso/db"
)

var (
	// ErrNotInitialized is returned until startup has published a database.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrSyncNotConfigured is returned by Sync when the live database has
	// no remote primary.
	ErrSyncNotConfigured = errors.New("cloud sync is not enabled; configure sync and restart")

	// ErrAlreadyPublished is returned by a second Publish.
	ErrAlreadyPublished = errors.New("database already published")
)

// State is the shared database handle.
//
// The database slot, the connection slot and the sync status each have their
// own lock so that cheap readers never wait behind a slow operation on an
// unrelated field.
type State struct {
	dbMu     sync.Mutex
	database db.Database

	connMu sync.RWMutex
	conn   *sql.DB

	statusMu    sync.RWMutex
	syncEnabled bool
	syncURL     string
	lastSync    time.Time

	readyOnce sync.Once
	ready     chan struct{}
	failErr   error
	published bool
}

// New returns an empty State.
func New() *State {
	return &State{ready: make(chan struct{})}
}

// Publish stores the initialized database. cloud reports whether the handle
// replicates to url. It may be called once; later calls return
// ErrAlreadyPublished and leave the State unchanged.
func (s *State) Publish(database db.Database, cloud bool, url string) error {
	if database == nil {
		return fmt.Errorf("cannot publish nil database")
	}

	s.dbMu.Lock()
	if s.published {
		s.dbMu.Unlock()
		return ErrAlreadyPublished
	}
	s.published = true
	s.database = database
	s.dbMu.Unlock()

	s.connMu.Lock()
	s.conn = database.Conn()
	s.connMu.Unlock()

	s.statusMu.Lock()
	s.syncEnabled = cloud
	if cloud {
		s.syncURL = url
	} else {
		s.syncURL = ""
	}
	s.statusMu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// Fail records that initialization gave up. Waiters are released with err.
func (s *State) Fail(err error) {
	s.readyOnce.Do(func() {
		s.failErr = err
		close(s.ready)
	})
}

// Connection returns the live connection pool, or ErrNotInitialized.
// It never blocks on initialization.
func (s *State) Connection() (*sql.DB, error) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	if s.conn == nil {
		return nil, ErrNotInitialized
	}
	return s.conn, nil
}

// Wait blocks until the database is published, initialization fails, or ctx
// is done.
func (s *State) Wait(ctx context.Context) (*sql.DB, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.failErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, s.failErr)
	}
	return s.Connection()
}

// Ready returns a channel closed once Publish or Fail has run.
func (s *State) Ready() <-chan struct{} {
	return s.ready
}

// Sync runs one manual synchronization with the remote primary.
func (s *State) Sync(ctx context.Context) error {
	s.dbMu.Lock()
	database := s.database
	s.dbMu.Unlock()

	if database == nil {
		return ErrNotInitialized
	}

	if err := database.Sync(ctx); err != nil {
		if isSyncUnsupported(err) {
			return ErrSyncNotConfigured
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	s.statusMu.Lock()
	s.lastSync = time.Now()
	s.statusMu.Unlock()
	return nil
}

// isSyncUnsupported reports whether err means the database was never set up
// for sync.
func isSyncUnsupported(err error) bool {
	if errors.Is(err, db.ErrSyncUnsupported) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "File mode") || strings.Contains(msg, "not supported")
}

// Close releases both handles and closes the database. It is idempotent.
func (s *State) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()

	s.statusMu.Lock()
	s.syncEnabled = false
	s.syncURL = ""
	s.statusMu.Unlock()

	database := s.database
	s.database = nil
	if database == nil {
		return nil
	}
	return database.Close()
}

// IsCloudSyncEnabled reports whether startup ended with a live replica.
// It reflects the final decision, not the presence of a config file.
func (s *State) IsCloudSyncEnabled() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.syncEnabled
}

// SyncURL returns the primary URL when cloud sync is enabled.
func (s *State) SyncURL() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.syncURL
}

// LastSync returns the time of the last successful manual or periodic sync.
func (s *State) LastSync() time.Time {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.lastSync
}
