package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tally/internal/turso/state"
	"github.com/mschirtzinger/tally/internal/ui"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: GroupMaintenance,
	Short:   "Print the tail of the application log",
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService(state.New(), nil)

		logs, err := svc.AppLogs()
		if err != nil {
			fatalf("%v", err)
		}
		if logs == "" {
			fmt.Println(ui.RenderMuted("(log is empty)"))
			return
		}
		fmt.Print(logs)
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
