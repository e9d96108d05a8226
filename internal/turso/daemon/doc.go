// Package daemon keeps a running ledger in step with its remote primary.
//
// While the process runs, the daemon:
//
//   - syncs the embedded replica on a fixed interval, but only when startup
//     ended in cloud mode
//   - runs manual syncs on request, serialized with the periodic ones
//   - watches sync_config.json and reports edits, debounced, so the user can
//     be told that a restart is needed
//   - keeps a bounded history of sync attempts
//
// Configuration changes never re-run initialization in-process; they take
// effect on the next start.
//
// # Usage
//
//	d, err := daemon.NewWithConfig(st, dbPath, handler, &daemon.Config{
//	    SyncInterval:     5 * time.Minute,
//	    DebounceInterval: 200 * time.Millisecond,
//	    Logger:           sink.Logger("daemon"),
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// Events are delivered synchronously from the daemon's goroutines; an Events
// implementation must not block.
package daemon
