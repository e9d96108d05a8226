package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	libsql "github.com/tursodatabase/go-libsql"
)

// replicaDB is an embedded replica of a remote libSQL primary.
type replicaDB struct {
	conn *sql.DB
	path string

	syncFn         func() (libsql.Replicated, error)
	closeConnector func() error

	// calls counts engine calls still running, including those whose
	// caller's context has already expired.
	calls     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// OpenReplica builds an embedded replica connector for the primary at url.
//
// go-libsql takes no context, so the build is raced against ctx; a connector
// that arrives after ctx is done is closed in the background, and OpenLocal
// waits for that before touching the file.
func (e *LibSQL) OpenReplica(ctx context.Context, path, url, token string) (Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connector, err := runWithContext(ctx, &e.builds,
		func() (*libsql.Connector, error) {
			return libsql.NewEmbeddedReplicaConnector(path, url, libsql.WithAuthToken(token))
		},
		func(c *libsql.Connector) { _ = c.Close() },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build synced database: %w", err)
	}

	conn := sql.OpenDB(connector)
	// PRAGMA foreign_keys is per connection; pin the pool to one.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to connect synced database: %w", err)
	}

	return &replicaDB{
		conn:           conn,
		path:           path,
		syncFn:         connector.Sync,
		closeConnector: connector.Close,
	}, nil
}

func (d *replicaDB) Conn() *sql.DB { return d.conn }
func (d *replicaDB) Path() string  { return d.path }
func (d *replicaDB) Synced() bool  { return true }

// Sync pulls and pushes frames against the primary.
func (d *replicaDB) Sync(ctx context.Context) error {
	_, err := runWithContext(ctx, &d.calls, d.syncFn, nil)
	return err
}

// Close waits for engine calls still using the connector, then closes the
// pool and the connector.
func (d *replicaDB) Close() error {
	d.closeOnce.Do(func() {
		d.calls.Wait()

		var connErr error
		if d.conn != nil {
			connErr = d.conn.Close()
		}
		connectorErr := d.closeConnector()

		switch {
		case connErr != nil:
			d.closeErr = fmt.Errorf("failed to close synced database: %w", connErr)
		case connectorErr != nil:
			d.closeErr = fmt.Errorf("failed to close replica connector: %w", connectorErr)
		}
	})
	return d.closeErr
}

// runWithContext runs fn in a goroutine and returns early when ctx is done.
// A result that arrives after ctx is done is passed to discard. When calls is
// non-nil it is held until fn and discard have both returned.
func runWithContext[T any](ctx context.Context, calls *sync.WaitGroup, fn func() (T, error), discard func(T)) (T, error) {
	type result struct {
		val T
		err error
	}

	if calls != nil {
		calls.Add(1)
	}
	done := make(chan result)
	abandoned := make(chan struct{})
	go func() {
		if calls != nil {
			defer calls.Done()
		}
		v, err := fn()

		select {
		case done <- result{val: v, err: err}:
		case <-abandoned:
			if err == nil && discard != nil {
				discard(v)
			}
		}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		close(abandoned)
		var zero T
		return zero, ctx.Err()
	}
}
