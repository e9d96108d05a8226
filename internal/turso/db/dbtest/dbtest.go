// Package dbtest provides scripted db.Engine and db.Database fakes.
//
// The fakes wrap real local database files, so schema migration and queries
// behave exactly as in production; only the replica build and Sync outcomes
// are scripted.
package dbtest

import (
	"context"
	"sync"

	"github.com/mschirtzinger/tally/internal/turso/db"
)

// Engine is a db.Engine whose replica behaviour is scripted.
//
// Each OpenReplica call consumes the next entry of ReplicaErrs (nil means
// success); each Sync on a replica consumes the next entry of SyncErrs.
// Exhausted scripts succeed.
type Engine struct {
	Local *db.LibSQL

	mu          sync.Mutex
	ReplicaErrs []error
	SyncErrs    []error

	LocalCalls   int
	ReplicaCalls int
	SyncCalls    int
	ReplicaURLs  []string
}

// NewEngine returns an Engine opening real local files.
func NewEngine() *Engine {
	return &Engine{Local: db.NewLibSQL()}
}

// OpenLocal opens a real local database.
func (e *Engine) OpenLocal(ctx context.Context, path string) (db.Database, error) {
	e.mu.Lock()
	e.LocalCalls++
	e.mu.Unlock()
	return e.Local.OpenLocal(ctx, path)
}

// OpenReplica returns the next scripted error, or a replica backed by a real
// local file at path.
func (e *Engine) OpenReplica(ctx context.Context, path, url, token string) (db.Database, error) {
	e.mu.Lock()
	e.ReplicaCalls++
	e.ReplicaURLs = append(e.ReplicaURLs, url)
	var err error
	if len(e.ReplicaErrs) > 0 {
		err, e.ReplicaErrs = e.ReplicaErrs[0], e.ReplicaErrs[1:]
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	local, err := e.Local.OpenLocal(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Replica{Database: local, engine: e}, nil
}

// Calls returns the number of local opens, replica opens and syncs so far.
func (e *Engine) Calls() (local, replica, syncs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.LocalCalls, e.ReplicaCalls, e.SyncCalls
}

func (e *Engine) nextSyncErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SyncCalls++
	if len(e.SyncErrs) == 0 {
		return nil
	}
	err := e.SyncErrs[0]
	e.SyncErrs = e.SyncErrs[1:]
	return err
}

// Replica is a local database that reports itself as synced.
type Replica struct {
	db.Database
	engine *Engine
}

func (r *Replica) Synced() bool { return true }

func (r *Replica) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.engine.nextSyncErr()
}

// Database is a db.Database stub with a scripted Sync result.
type Database struct {
	db.Database
	SyncErr error

	mu     sync.Mutex
	closes int
	syncs  int
}

// Wrap returns a stub around a real database.
func Wrap(inner db.Database, syncErr error) *Database {
	return &Database{Database: inner, SyncErr: syncErr}
}

func (d *Database) Sync(ctx context.Context) error {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()
	return d.SyncErr
}

func (d *Database) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return d.Database.Close()
}

// Closes returns how many times Close was called.
func (d *Database) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Syncs returns how many times Sync was called.
func (d *Database) Syncs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncs
}
