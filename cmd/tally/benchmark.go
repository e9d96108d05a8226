package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tally/internal/turso/loadtest"
	"github.com/mschirtzinger/tally/internal/ui"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure query latency on a generated ledger",
	Long: `Run a load test against a throwaway ledger database.

This command creates a temporary database with the given number of
transactions and installment plans, runs the monthly spending query from
many concurrent readers, and then checks that readers never observe a
partially written installment plan while a writer adds new ones.

Your own ledger is never opened.

Examples:
  # Default settings (50 readers, 5000 transactions)
  tally benchmark

  # Heavier run
  tally benchmark --readers 200 --transactions 20000

  # Output results as JSON
  tally benchmark --json
`,
	Run:     runBenchmark,
	GroupID: GroupMaintenance,
}

func init() {
	benchmarkCmd.Flags().Int("readers", 50, "Number of concurrent readers")
	benchmarkCmd.Flags().Int("transactions", 5000, "Number of generated transactions")
	benchmarkCmd.Flags().Int("queries", 10, "Number of queries per reader")
	benchmarkCmd.Flags().Float64("installments", 0.05, "Installment plans as a fraction of transactions (0.0-1.0)")
	benchmarkCmd.Flags().Duration("consistency", 2*time.Second, "Duration of the read/write consistency check (0 skips it)")
	benchmarkCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchmarkCmd)
}

type benchmarkReport struct {
	Ledger      map[string]interface{} `json:"ledger"`
	Queries     int                    `json:"queries"`
	Errors      int                    `json:"errors"`
	P50MS       float64                `json:"p50_ms"`
	P95MS       float64                `json:"p95_ms"`
	P99MS       float64                `json:"p99_ms"`
	MeanMS      float64                `json:"mean_ms"`
	Throughput  float64                `json:"queries_per_second"`
	Consistency string                 `json:"consistency"`
}

func runBenchmark(cmd *cobra.Command, args []string) {
	readers, _ := cmd.Flags().GetInt("readers")
	transactions, _ := cmd.Flags().GetInt("transactions")
	queries, _ := cmd.Flags().GetInt("queries")
	installments, _ := cmd.Flags().GetFloat64("installments")
	consistency, _ := cmd.Flags().GetDuration("consistency")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if readers <= 0 || transactions <= 0 || queries <= 0 {
		fatalf("--readers, --transactions and --queries must be positive")
	}
	if installments < 0 || installments > 1 {
		fatalf("--installments must be between 0.0 and 1.0")
	}

	dir, err := os.MkdirTemp("", "tally-benchmark-")
	if err != nil {
		fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	if !jsonOutput {
		fmt.Printf("Generating %d transactions...\n", transactions)
	}
	ledger, err := loadtest.CreateTestLedger(rootCtx, filepath.Join(dir, "accounts.db"), transactions, installments)
	if err != nil {
		fatalf("%v", err)
	}
	defer ledger.Close()

	start := time.Now()
	stats, err := ledger.RunConcurrentQueries(rootCtx, readers, queries)
	elapsed := time.Since(start)
	if stats == nil {
		fatalf("%v", err)
	}

	report := benchmarkReport{
		Queries:     stats.TotalQueries,
		Errors:      stats.Errors,
		P50MS:       ms(stats.P50),
		P95MS:       ms(stats.P95),
		P99MS:       ms(stats.P99),
		MeanMS:      ms(stats.Mean),
		Throughput:  float64(stats.TotalQueries) / elapsed.Seconds(),
		Consistency: "skipped",
	}

	if consistency > 0 {
		report.Consistency = "ok"
		if err := ledger.VerifyConsistency(rootCtx, readers, consistency); err != nil {
			report.Consistency = err.Error()
		}
	}
	report.Ledger = ledger.GetStats()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	fmt.Println()
	stats.PrintStats(os.Stdout)
	fmt.Printf("  Throughput:    %.0f queries/s\n\n", report.Throughput)

	switch report.Consistency {
	case "ok":
		fmt.Printf("%s Consistency check passed (%d plans written)\n", ui.RenderPass("✓"), ledger.Installments)
	case "skipped":
		fmt.Println(ui.RenderMuted("Consistency check skipped"))
	default:
		fmt.Printf("%s Consistency check failed: %s\n", ui.RenderFail("✗"), report.Consistency)
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
