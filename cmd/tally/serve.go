package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tally/internal/app"
	"github.com/mschirtzinger/tally/internal/config"
	"github.com/mschirtzinger/tally/internal/metrics"
	"github.com/mschirtzinger/tally/internal/turso/daemon"
	"github.com/mschirtzinger/tally/internal/turso/dashboard"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupLedger,
	Short:   "Open the ledger and keep it in sync until interrupted",
	Long: `Open the ledger database and keep it available until interrupted.

Startup runs in the background while the dashboard is already listening:
  1. Reads sync_config.json next to the database
  2. When cloud sync is configured, validates the credentials, builds the
     embedded replica and pulls from the primary
  3. On a replica conflict, moves the old files aside as accounts.db.legacy
     and retries once
  4. Falls back to the local file whenever the cloud path fails
  5. Applies the schema and seeds default categories

While running, the database is synced every sync.interval (cloud mode only)
and edits to sync_config.json are reported. They take effect on restart.

WebSocket messages include:
- status: snapshot sent to each new client
- db_initialized: startup finished (local or cloud)
- sync_complete / sync_failed: result of each sync
- config_changed: sync_config.json was written or removed
- legacy_migrated: a legacy backup was merged

Prometheus metrics are served at /metrics on the same port.

Example usage:
  tally serve                    # Dashboard on 127.0.0.1:7420
  tally serve --port 9000        # Custom port
  tally serve --no-dashboard     # Sync only`,
	Annotations: map[string]string{annotationConsoleLogs: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = config.GetInt(config.KeyDashboardPort)
		}
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

		if err := serve(rootCtx, port, !noDashboard); err != nil {
			fatalf("%v", err)
		}
	},
}

// serveStatus is the dashboard snapshot: the ledger status plus recent syncs.
type serveStatus struct {
	*app.Status
	Syncs []daemon.SyncRecord `json:"syncs"`
}

func serve(ctx context.Context, port int, withDashboard bool) error {
	dbPath := config.DBPath()
	st := state.New()
	defer st.Close()
	recorder := metrics.NewRecorder()

	var (
		svc *app.Service
		d   *daemon.Daemon
	)
	server := dashboard.NewServer(&dashboard.Config{
		Port: port,
		Status: func(ctx context.Context) (interface{}, error) {
			status, err := svc.Status(ctx)
			if err != nil {
				return nil, err
			}
			return serveStatus{Status: status, Syncs: d.History()}, nil
		},
		Metrics: recorder.Handler(),
		Logger:  logSink.Logger("dashboard"),
	})
	handler := dashboard.NewHandler(server, logSink.Logger("dashboard"))
	svc = newService(st, handler)

	d, err := daemon.NewWithConfig(st, dbPath, daemon.MultiEvents(handler, recorder), &daemon.Config{
		SyncInterval: config.GetDuration(config.KeySyncInterval),
		Logger:       logSink.Logger("daemon"),
	})
	if err != nil {
		return err
	}

	if withDashboard {
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()
		fmt.Printf("Dashboard: %s\n", ui.RenderAccent("http://"+server.GetAddr()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result, err := newInitializer(st).Run(gctx)
		if err != nil {
			return err
		}
		handler.OnDBInitialized(result)
		recorder.ObserveStartup(string(result.Mode), result.Recovered, result.Elapsed)
		printInitResult(result)

		mode := string(result.Mode)
		if result.CloudSync {
			mode += " (" + result.SyncURL + ")"
		}
		fmt.Printf("%s Ledger ready at %s [%s]\n", ui.RenderPass("✓"), ui.RenderAccent(dbPath), mode)
		fmt.Println("\nPress Ctrl+C to stop...")
		return nil
	})

	g.Go(func() error {
		return d.Start(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	fmt.Fprintln(os.Stderr, "\nShutting down...")
	return err
}

func init() {
	serveCmd.Flags().IntP("port", "p", 7420, "Dashboard port (default from dashboard.port)")
	serveCmd.Flags().Bool("no-dashboard", false, "Do not start the dashboard server")

	rootCmd.AddCommand(serveCmd)
}
