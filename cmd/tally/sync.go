package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tally/internal/config"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/turso/syncconfig"
	"github.com/mschirtzinger/tally/internal/turso/validate"
	"github.com/mschirtzinger/tally/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: GroupSync,
	Short:   "Cloud sync with a remote libSQL primary",
	Long: `Manage cloud sync with a remote libSQL primary.

Credentials are stored in sync_config.json next to the database. Changes
take effect the next time the ledger is opened.`,
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Push and pull changes with the primary",
	Run: func(cmd *cobra.Command, args []string) {
		svc, st, result, err := openLedger(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()
		printInitResult(result)

		start := time.Now()
		if err := svc.SyncDatabase(rootCtx); err != nil {
			if errors.Is(err, state.ErrSyncNotConfigured) {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
				fmt.Fprintf(os.Stderr, "   Run %s first\n", ui.RenderAccent("tally sync configure"))
				exit(1)
			}
			fatalf("%v", err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

var syncConfigureCmd = &cobra.Command{
	Use:   "configure [url]",
	Short: "Store and validate sync credentials",
	Long: `Validate and store the primary URL and auth token.

The token is read from --token, then $TALLY_SYNC_TOKEN, and finally
prompted for when running in a terminal. Both values are checked against
the primary before they are saved.

Example usage:
  tally sync configure libsql://ledger-me.turso.io
  tally sync configure --url libsql://ledger-me.turso.io --token "$TOKEN"`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")
		if len(args) == 1 {
			url = args[0]
		}
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = os.Getenv("TALLY_SYNC_TOKEN")
		}

		if url == "" && ui.IsTerminal(os.Stdin) {
			if err := huh.NewInput().
				Title("Primary URL").
				Placeholder("libsql://<db>-<org>.turso.io").
				Validate(func(s string) error {
					_, err := validate.PipelineURL(strings.TrimSpace(s))
					return err
				}).
				Value(&url).
				Run(); err != nil {
				fatalf("%v", err)
			}
		}
		if token == "" && ui.IsTerminal(os.Stdin) {
			if err := huh.NewInput().
				Title("Auth token").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Run(); err != nil {
				fatalf("%v", err)
			}
		}

		url, token = strings.TrimSpace(url), strings.TrimSpace(token)
		if url == "" || token == "" {
			fatalf("both a URL and a token are required (use %s to turn sync off)", "tally sync disable")
		}

		svc := newService(state.New(), nil)
		fmt.Printf("Checking %s...\n", ui.RenderAccent(url))
		if err := svc.ConfigureSync(rootCtx, url, token); err != nil {
			switch {
			case errors.Is(err, validate.ErrAuthentication):
				fatalf("the primary rejected the token: %v", err)
			case errors.Is(err, validate.ErrNetwork):
				fatalf("could not reach the primary: %v", err)
			default:
				fatalf("%v", err)
			}
		}

		fmt.Printf("%s Sync configured for %s\n", ui.RenderPass("✓"), ui.RenderAccent(url))
		fmt.Printf("   Restart %s to start syncing\n", ui.RenderAccent("tally serve"))
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn cloud sync off at the next startup",
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService(state.New(), nil)
		if err := svc.ConfigureSync(rootCtx, "", ""); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Cloud sync disabled; the local database is used from the next start\n", ui.RenderPass("✓"))
	},
}

var syncShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored sync credentials",
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService(state.New(), nil)
		cfg := svc.GetSyncConfig()

		fmt.Printf("   File:  %s\n", ui.RenderAccent(syncconfig.Path(config.DBPath())))
		if !cfg.Enabled() {
			fmt.Printf("   Sync:  %s\n", ui.RenderMuted("not configured"))
			return
		}
		fmt.Printf("   URL:   %s\n", cfg.URL)
		fmt.Printf("   Token: %s\n", syncconfig.Redact(cfg.Token))
	},
}

func init() {
	syncConfigureCmd.Flags().String("url", "", "Primary URL (libsql:// or https://)")
	syncConfigureCmd.Flags().String("token", "", "Auth token (default: $TALLY_SYNC_TOKEN or prompt)")

	syncCmd.AddCommand(syncNowCmd, syncConfigureCmd, syncDisableCmd, syncShowCmd)
	rootCmd.AddCommand(syncCmd)
}
