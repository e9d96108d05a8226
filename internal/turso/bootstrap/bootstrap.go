// Package bootstrap opens the ledger database at startup.
//
// The initializer decides between local-only and cloud mode, recovers from
// replica generation conflicts, migrates the schema and publishes the result
// into the shared state.State. Whatever happens on the cloud side, startup
// ends with a working local database unless the local file itself or the
// schema is broken.
//
// Decision flow:
//
//	no config / partial config ─────────────────────────────► local
//	config ─► validate ─ fail ──────────────────────────────► local
//	             │ ok
//	             ▼
//	      open replica + eager sync ─ ok ───────────────────► cloud
//	             │ fail
//	             ├─ recoverable conflict ─► quarantine ─► retry once
//	             │                                 ├─ ok ───► cloud
//	             │                                 └─ fail ─► local
//	             └─ other failure ──────────────────────────► local
//
// Then, in every branch: schema.Migrate (fatal on error) and state.Publish.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/schema"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
	"github.com/mschirtzinger/tally/internal/turso/validate"
)

// DefaultCloudTimeout bounds the whole cloud branch: replica build, eager
// sync, and the single retry after quarantine.
const DefaultCloudTimeout = 2 * time.Minute

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("database initialization already ran")

// Validator checks sync credentials before a replica is built.
type Validator interface {
	Validate(ctx context.Context, url, token string) error
}

// Mode is the mode the database ended up in.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// Config holds the initializer's collaborators.
type Config struct {
	// Engine builds database handles.
	Engine db.Engine

	// Validator checks the remote primary before any replica build.
	Validator Validator

	// CloudTimeout bounds the cloud branch (0 = DefaultCloudTimeout).
	CloudTimeout time.Duration

	// Logger for initialization activity
	Logger *log.Logger
}

// DefaultConfig returns the production engine and validator.
func DefaultConfig() *Config {
	return &Config{
		Engine:       db.NewLibSQL(),
		Validator:    validate.New(),
		CloudTimeout: DefaultCloudTimeout,
		Logger:       log.New(os.Stderr, "[bootstrap] ", log.LstdFlags),
	}
}

// Result describes how initialization ended.
type Result struct {
	Mode      Mode
	CloudSync bool
	SyncURL   string

	// Recovered is true when a conflict was quarantined and the retry
	// produced a live replica.
	Recovered bool

	// Quarantine is set whenever the conflict branch ran.
	Quarantine *QuarantineReport

	// FallbackReason explains why a configured cloud sync ended up local.
	FallbackReason error

	Elapsed time.Duration
}

// Initializer runs startup once for one database file.
type Initializer struct {
	dbPath string
	state  *state.State
	config *Config
	ran    atomic.Bool
}

// New creates an Initializer for dbPath publishing into st.
// Nil fields in config fall back to DefaultConfig values.
func New(dbPath string, st *state.State, config *Config) *Initializer {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Engine == nil {
		config.Engine = defaults.Engine
	}
	if config.Validator == nil {
		config.Validator = defaults.Validator
	}
	if config.CloudTimeout <= 0 {
		config.CloudTimeout = DefaultCloudTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Initializer{dbPath: dbPath, state: st, config: config}
}

// Run performs initialization and publishes the database into the state.
//
// It returns an error only when no usable database could be produced: the
// local file cannot be opened, or the schema migration fails. In that case
// the state is marked failed and stays empty.
//
// Run may be called once per Initializer; later calls return ErrAlreadyRun.
func (in *Initializer) Run(ctx context.Context) (*Result, error) {
	if !in.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	start := time.Now()
	logger := in.config.Logger

	database, result, err := in.connect(ctx)
	if err != nil {
		in.state.Fail(err)
		return nil, err
	}

	if err := schema.Migrate(ctx, database.Conn()); err != nil {
		_ = database.Close()
		err = fmt.Errorf("failed to migrate schema: %w", err)
		in.state.Fail(err)
		return nil, err
	}

	if err := in.state.Publish(database, result.CloudSync, result.SyncURL); err != nil {
		_ = database.Close()
		return nil, err
	}

	result.Elapsed = time.Since(start)
	logger.Printf("Database ready: mode=%s cloud_sync=%v recovered=%v (%v)",
		result.Mode, result.CloudSync, result.Recovered, result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// connect produces a live database handle, cloud if possible, else local.
func (in *Initializer) connect(ctx context.Context) (db.Database, *Result, error) {
	logger := in.config.Logger

	cfg := syncconfig.Load(in.dbPath)
	if !cfg.Enabled() {
		if cfg != nil {
			logger.Printf("Sync config incomplete (url set=%v, token %s); using local database",
				cfg.URL != "", syncconfig.Redact(cfg.Token))
		} else {
			logger.Printf("No sync config; using local database %s", in.dbPath)
		}
		return in.openLocal(ctx, &Result{})
	}

	logger.Printf("Sync config found: url=%s token=%s", cfg.URL, syncconfig.Redact(cfg.Token))

	// CloudTimeout covers validation, the replica build, the eager sync and
	// any retry.
	cloudCtx, cancel := context.WithTimeout(ctx, in.config.CloudTimeout)
	defer cancel()

	if err := in.config.Validator.Validate(cloudCtx, cfg.URL, cfg.Token); err != nil {
		logger.Printf("Cloud validation failed, falling back to local database: %v", err)
		return in.openLocal(ctx, &Result{FallbackReason: err})
	}

	database, err := in.openCloud(cloudCtx, cfg)
	if err == nil {
		return database, &Result{Mode: ModeCloud, CloudSync: true, SyncURL: cfg.URL}, nil
	}

	if !IsRecoverableConflict(err) {
		logger.Printf("Synced database failed (not a sync conflict), falling back to local database: %v", err)
		return in.openLocal(ctx, &Result{FallbackReason: err})
	}

	logger.Printf("Sync conflict detected, quarantining local database. Engine message: %q", err.Error())
	report, qerr := Quarantine(in.dbPath, logger)
	result := &Result{Quarantine: report}
	if qerr != nil {
		logger.Printf("Quarantine failed, falling back to local database: %v", qerr)
		result.FallbackReason = qerr
		return in.openLocal(ctx, result)
	}

	database, err = in.openCloud(cloudCtx, cfg)
	if err != nil {
		logger.Printf("Synced database retry failed, falling back to local database: %v", err)
		result.FallbackReason = err
		return in.openLocal(ctx, result)
	}

	logger.Printf("Recovered from sync conflict with a fresh replica")
	result.Mode = ModeCloud
	result.CloudSync = true
	result.SyncURL = cfg.URL
	result.Recovered = true
	return database, result, nil
}

// openCloud builds a replica and syncs it once immediately, so that a
// generation conflict surfaces now rather than on the first user write.
func (in *Initializer) openCloud(ctx context.Context, cfg *syncconfig.SyncConfig) (db.Database, error) {
	database, err := in.config.Engine.OpenReplica(ctx, in.dbPath, cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}

	if err := database.Sync(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}
	return database, nil
}

func (in *Initializer) openLocal(ctx context.Context, result *Result) (db.Database, *Result, error) {
	database, err := in.config.Engine.OpenLocal(ctx, in.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local database: %w", err)
	}

	result.Mode = ModeLocal
	result.CloudSync = false
	result.SyncURL = ""
	return database, result, nil
}
