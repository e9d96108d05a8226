package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/tally/internal/app"
	"github.com/mschirtzinger/tally/internal/config"
	"github.com/mschirtzinger/tally/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupLedger,
	Short:   "Show database, sync and legacy backup status",
	Long: `Open the ledger and display its current status.

Shows:
  - Database file location and storage mode (local or cloud)
  - Whether sync credentials are stored
  - Whether a legacy backup is waiting to be merged
  - Row counts per table

Opening the ledger runs the normal startup, including the initial pull when
cloud sync is configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		yamlOut, _ := cmd.Flags().GetBool("yaml")

		svc, st, result, err := openLedger(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		status, err := svc.Status(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}

		switch {
		case jsonOut:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				fatalf("failed to encode status: %v", err)
			}
		case yamlOut:
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(status); err != nil {
				fatalf("failed to encode status: %v", err)
			}
			_ = enc.Close()
		default:
			printInitResult(result)
			printStatus(status, result.Elapsed)
		}
	},
}

func printStatus(status *app.Status, elapsed time.Duration) {
	fmt.Printf("\n%s\n\n", ui.RenderBold("Ledger status"))
	fmt.Printf("   Database: %s\n", ui.RenderAccent(status.DBPath))
	if used := config.ConfigFileUsed(); used != "" {
		fmt.Printf("   Config:   %s\n", ui.RenderAccent(used))
	}

	switch {
	case status.CloudSync:
		fmt.Printf("   Mode:     %s %s\n", ui.RenderPass("cloud"), ui.RenderMuted(status.SyncURL))
	case status.SyncConfigured:
		fmt.Printf("   Mode:     %s %s\n", ui.RenderWarn("local"), ui.RenderMuted("(sync configured but unavailable)"))
	default:
		fmt.Printf("   Mode:     local\n")
	}
	if status.LastSync != nil {
		fmt.Printf("   Synced:   %s\n", status.LastSync.Local().Format(time.RFC3339))
	}
	fmt.Printf("   Opened in %v\n", elapsed.Round(time.Millisecond))

	if len(status.Rows) > 0 {
		tables := make([]string, 0, len(status.Rows))
		for table := range status.Rows {
			tables = append(tables, table)
		}
		sort.Strings(tables)

		fmt.Printf("\n   Rows:\n")
		for _, table := range tables {
			fmt.Printf("     %-20s %d\n", table, status.Rows[table])
		}
	}

	if status.HasLegacy {
		fmt.Printf("\n%s A legacy backup is waiting; run %s\n",
			ui.RenderWarn("⚠"), ui.RenderAccent("tally legacy migrate"))
	}
	fmt.Println()
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output in JSON format")
	statusCmd.Flags().Bool("yaml", false, "Output in YAML format")
	statusCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(statusCmd)
}
