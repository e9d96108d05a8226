package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tally/internal/config"
	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/migrate"
	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/ui"
)

var legacyCmd = &cobra.Command{
	Use:     "legacy",
	GroupID: GroupMaintenance,
	Short:   "Inspect and merge the backup left by a sync conflict",
	Long: `When the local replica no longer matches the primary, startup moves the
old database aside as accounts.db.legacy and starts from a fresh replica.
These commands merge that backup back into the live database.`,
}

var legacyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a legacy backup exists",
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService(state.New(), nil)
		if !svc.HasLegacyDB() {
			fmt.Printf("%s No legacy backup\n", ui.RenderPass("✓"))
			return
		}

		info, err := os.Stat(db.LegacyPath(config.DBPath()))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Legacy backup found: %s (%s)\n", ui.RenderWarn("⚠"),
			ui.RenderAccent(info.Name()), info.ModTime().Format("2006-01-02 15:04"))
		fmt.Printf("   Run %s to merge it\n", ui.RenderAccent("tally legacy migrate"))
	},
}

var legacyMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Merge the legacy backup into the live database",
	Long: `Copy every row of the legacy backup into the live database.

Rows are matched by id: rows already present are updated with the backup's
values and missing rows are inserted. The backup file is kept, so the merge
can be repeated safely.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		if !migrate.HasLegacy(config.DBPath()) {
			fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), migrate.ErrNoLegacy)
			return
		}

		if !yes && ui.IsTerminal(os.Stdin) {
			confirmed := false
			if err := huh.NewConfirm().
				Title("Merge the legacy backup into the live database?").
				Description("Rows with matching ids are overwritten with the backup's values.").
				Value(&confirmed).
				Run(); err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return
			}
		}

		svc, st, result, err := openLedger(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()
		printInitResult(result)

		summary, err := svc.MigrateFromLegacy(rootCtx)
		if err != nil {
			if errors.Is(err, migrate.ErrNoLegacy) {
				fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), err)
				return
			}
			fatalf("%v", err)
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), summary)
	},
}

func init() {
	legacyMigrateCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	legacyCmd.AddCommand(legacyCheckCmd, legacyMigrateCmd)
	rootCmd.AddCommand(legacyCmd)
}
