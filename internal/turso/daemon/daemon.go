package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
)

// Trigger identifies what started a sync.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Syncer is the live database as seen by the daemon.
type Syncer interface {
	Sync(ctx context.Context) error
	IsCloudSyncEnabled() bool
}

// Events receives daemon notifications.
type Events interface {
	OnSyncComplete(trigger Trigger, duration time.Duration)
	OnSyncFailed(trigger Trigger, err error)
	OnConfigChanged(ev syncconfig.Event)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to sync a cloud database (0 disables)
	SyncInterval time.Duration

	// DebounceInterval is how long sync_config.json must stay quiet before
	// a change is reported. Editors often write a file several times.
	DebounceInterval time.Duration

	// HistorySize bounds the sync history
	HistorySize int

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 200 * time.Millisecond,
		HistorySize:      50,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic sync and config watching.
type Daemon struct {
	syncer Syncer
	dbPath string
	events Events
	config *Config

	watcher *syncconfig.Watcher
	history *History
	syncMu  sync.Mutex

	pending   *syncconfig.Event
	pendingAt time.Time
	pendingMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(syncer Syncer, dbPath string, events Events) (*Daemon, error) {
	return NewWithConfig(syncer, dbPath, events, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
// events may be nil.
func NewWithConfig(syncer Syncer, dbPath string, events Events, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, errors.New("syncer cannot be nil")
	}
	if dbPath == "" {
		return nil, errors.New("dbPath cannot be empty")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if events == nil {
		events = noEvents{}
	}

	watcher, err := syncconfig.NewWatcher(dbPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:  syncer,
		dbPath:  dbPath,
		events:  events,
		config:  config,
		watcher: watcher,
		history: NewHistory(config.HistorySize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation and blocks until ctx is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch sync config: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", syncconfig.Path(d.dbPath))

	d.wg.Add(2)
	go d.watchConfigEvents()
	go d.processPendingConfig()

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.syncLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if werr := d.watcher.Stop(); werr != nil {
			d.config.Logger.Printf("Error closing watcher: %v", werr)
			err = werr
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// SyncNow runs one manual sync and waits for it.
func (d *Daemon) SyncNow(ctx context.Context) error {
	return d.runSync(ctx, TriggerManual)
}

// History returns the recorded sync attempts, oldest first.
func (d *Daemon) History() []SyncRecord {
	return d.history.Entries()
}

func (d *Daemon) runSync(ctx context.Context, trigger Trigger) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	start := time.Now()
	err := d.syncer.Sync(ctx)
	elapsed := time.Since(start)

	d.history.Add(SyncRecord{Started: start, Duration: elapsed, Trigger: trigger, Err: err})

	if err != nil {
		d.config.Logger.Printf("%s sync failed after %v: %v", trigger, elapsed.Round(time.Millisecond), err)
		d.events.OnSyncFailed(trigger, err)
		return err
	}

	d.config.Logger.Printf("%s sync complete in %v", trigger, elapsed.Round(time.Millisecond))
	d.events.OnSyncComplete(trigger, elapsed)
	return nil
}

// syncLoop syncs on every tick while cloud sync is enabled.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.syncer.IsCloudSyncEnabled() {
				continue
			}
			_ = d.runSync(d.ctx, TriggerPeriodic)
		}
	}
}

// watchConfigEvents queues sidecar changes for debounced delivery.
func (d *Daemon) watchConfigEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			d.queueConfigChange(ev)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueConfigChange keeps only the most recent change.
func (d *Daemon) queueConfigChange(ev syncconfig.Event) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pending = &ev
	d.pendingAt = time.Now()
}

// processPendingConfig delivers a queued change once it has settled.
func (d *Daemon) processPendingConfig() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if ev, ok := d.takeSettled(time.Now()); ok {
				d.reportConfigChange(ev)
			}
		}
	}
}

func (d *Daemon) takeSettled(now time.Time) (syncconfig.Event, bool) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if d.pending == nil || now.Sub(d.pendingAt) < d.config.DebounceInterval {
		return syncconfig.Event{}, false
	}
	ev := *d.pending
	d.pending = nil
	return ev, true
}

func (d *Daemon) reportConfigChange(ev syncconfig.Event) {
	switch {
	case ev.Op == syncconfig.OpRemove:
		d.config.Logger.Printf("Sync config removed; restart to run local-only")
	case ev.Config.Enabled():
		d.config.Logger.Printf("Sync config changed: url=%s token=%s; restart to apply",
			ev.Config.URL, syncconfig.Redact(ev.Config.Token))
	default:
		d.config.Logger.Printf("Sync config changed but incomplete; restart to run local-only")
	}
	d.events.OnConfigChanged(ev)
}

type noEvents struct{}

func (noEvents) OnSyncComplete(Trigger, time.Duration) {}
func (noEvents) OnSyncFailed(Trigger, error)           {}
func (noEvents) OnConfigChanged(syncconfig.Event)      {}

// MultiEvents delivers every notification to each of events in order.
// Nil entries are skipped.
func MultiEvents(events ...Events) Events {
	var out multiEvents
	for _, e := range events {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEvents []Events

func (m multiEvents) OnSyncComplete(trigger Trigger, duration time.Duration) {
	for _, e := range m {
		e.OnSyncComplete(trigger, duration)
	}
}

func (m multiEvents) OnSyncFailed(trigger Trigger, err error) {
	for _, e := range m {
		e.OnSyncFailed(trigger, err)
	}
}

func (m multiEvents) OnConfigChanged(ev syncconfig.Event) {
	for _, e := range m {
		e.OnConfigChanged(ev)
	}
}
