package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tally/internal/app"
	"github.com/mschirtzinger/tally/internal/config"
	"github.com/mschirtzinger/tally/internal/logging"
	"github.com/mschirtzinger/tally/internal/turso/bootstrap"
	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/ui"
)

// Command groups
const (
	GroupLedger      = "ledger"
	GroupSync        = "sync"
	GroupMaintenance = "maint"
)

// annotationConsoleLogs marks commands whose logs are mirrored to stderr
// without --verbose.
const annotationConsoleLogs = "console-logs"

var (
	dataDir     string
	dbName      string
	verboseFlag bool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	logSink *logging.Sink

	exitMu    sync.Mutex
	exitHooks []func()
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupLedger, Title: "Ledger:"},
		&cobra.Group{ID: GroupSync, Title: "Cloud Sync:"},
		&cobra.Group{ID: GroupMaintenance, Title: "Maintenance:"},
	)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: $TALLY_DATA_DIR or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "", "Database file name inside the data directory (default: accounts.db)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Mirror log output to stderr")
}

var rootCmd = &cobra.Command{
	Use:           "tally",
	Short:         "tally - personal expense ledger",
	Long:          `A personal expense ledger stored in SQLite, optionally kept in sync with a remote libSQL primary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		// Priority: flags > viper (config file + env vars) > defaults
		if cmd.Flags().Changed("data-dir") {
			config.Set(config.KeyDataDir, dataDir)
		} else {
			dataDir = config.GetString(config.KeyDataDir)
		}
		if cmd.Flags().Changed("db-name") {
			config.Set(config.KeyDBName, dbName)
		} else {
			dbName = config.GetString(config.KeyDBName)
		}

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		var console io.Writer
		if verboseFlag || cmd.Annotations[annotationConsoleLogs] != "" {
			console = os.Stderr
		}
		sink, err := logging.Open(logging.RotationConfig{
			File:      logging.Path(dataDir),
			MaxSizeMB: config.GetInt(config.KeyLogMaxSizeMB),
			MaxFiles:  config.GetInt(config.KeyLogMaxFiles),
		}, console)
		if err != nil {
			return err
		}
		logSink = sink

		if used := config.ConfigFileUsed(); used != "" {
			logSink.Logger("config").Printf("Using config file %s", used)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logSink != nil {
			_ = logSink.Close()
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// newService builds the app service over st using the process log sink.
func newService(st *state.State, events app.Events) *app.Service {
	return app.New(config.DBPath(), st, &app.Config{
		Events:  events,
		LogPath: logSink.Path(),
		Logger:  logSink.Logger("app"),
	})
}

// newEngine returns the database engine logging to the process log sink.
func newEngine() *db.LibSQL {
	return &db.LibSQL{Logger: logSink.Logger("db")}
}

// newInitializer builds the startup sequence for the configured database.
func newInitializer(st *state.State) *bootstrap.Initializer {
	cfg := bootstrap.DefaultConfig()
	cfg.CloudTimeout = config.GetDuration(config.KeySyncCloudTimeout)
	cfg.Engine = newEngine()
	cfg.Logger = logSink.Logger("bootstrap")
	return bootstrap.New(config.DBPath(), st, cfg)
}

// openLedger runs startup in the foreground for one-shot commands.
func openLedger(ctx context.Context) (*app.Service, *state.State, *bootstrap.Result, error) {
	st := state.New()
	result, err := newInitializer(st).Run(ctx)
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}
	// fatalf skips deferred calls; make sure the WAL is still checkpointed.
	onExit(func() { _ = st.Close() })
	return newService(st, nil), st, result, nil
}

// printInitResult tells the user how startup ended when it did not end in
// plain local or cloud mode.
func printInitResult(result *bootstrap.Result) {
	if q := result.Quarantine; q != nil && q.Renamed {
		fmt.Fprintf(os.Stderr, "%s Sync conflict; previous data kept at %s\n",
			ui.RenderWarn("⚠"), ui.RenderAccent(q.LegacyPath))
		fmt.Fprintf(os.Stderr, "   Run %s to merge it back\n", ui.RenderAccent("tally legacy migrate"))
	}
	if result.FallbackReason != nil {
		fmt.Fprintf(os.Stderr, "%s Cloud sync unavailable, using the local database: %v\n",
			ui.RenderWarn("⚠"), result.FallbackReason)
	}
}

// onExit registers fn to run when the process exits through exit.
func onExit(fn func()) {
	exitMu.Lock()
	defer exitMu.Unlock()
	exitHooks = append(exitHooks, fn)
}

// runExitHooks runs the registered hooks newest first. Each runs once.
func runExitHooks() {
	exitMu.Lock()
	hooks := exitHooks
	exitHooks = nil
	exitMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// exit runs the exit hooks, closes the log and exits with code.
func exit(code int) {
	runExitHooks()
	if logSink != nil {
		_ = logSink.Close()
	}
	os.Exit(code)
}

// fatalf prints an error and exits.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		exit(1)
	}
}
