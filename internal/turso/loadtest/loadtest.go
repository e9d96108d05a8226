// Package loadtest exercises a local ledger database under concurrent access.
//
// It fills a database with a realistic spread of transactions and
// installment plans, then measures the latency of the monthly spending
// query under N concurrent readers, and checks that readers never observe a
// half-written installment plan while a writer is adding new ones.
package loadtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/schema"
)

// Ledger is a populated database for load testing.
type Ledger struct {
	DB           db.Database
	CategoryIDs  []int64
	Transactions int
	Installments int

	// Generated transactions fall in [from, to).
	from, to time.Time

	mu sync.Mutex // guards Installments during VerifyConsistency
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

const dateLayout = "2006-01-02"

const monthlySpendQuery = `
	SELECT c.name, COALESCE(SUM(t.amount), 0)
	FROM categories c
	LEFT JOIN transactions t
		ON t.category_id = c.id AND t.transaction_date >= ? AND t.transaction_date < ?
	GROUP BY c.id
	ORDER BY c.id`

const incompletePlansQuery = `
	SELECT COUNT(*) FROM installments i
	WHERE i.installment_count != (
		SELECT COUNT(*) FROM installment_details d WHERE d.installment_id = i.id
	)`

// CreateTestLedger creates a database at dbPath holding numTransactions
// transactions spread over the last twelve months. installmentPct of that
// count is added as installment plans of 3 to 12 months each.
func CreateTestLedger(ctx context.Context, dbPath string, numTransactions int, installmentPct float64) (*Ledger, error) {
	database, err := db.NewLibSQL().OpenLocal(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn := database.Conn()

	// Support 100+ concurrent readers
	conn.SetMaxOpenConns(150)
	conn.SetMaxIdleConns(50)

	if err := schema.Migrate(ctx, conn); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	ids, err := categoryIDs(ctx, conn)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	now := time.Now().UTC()
	ledger := &Ledger{
		DB:          database,
		CategoryIDs: ids,
		from:        monthStart(now.AddDate(-1, 0, 0)),
		to:          monthStart(now),
	}

	// Deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))

	if err := ledger.insertTransactions(ctx, rng, numTransactions); err != nil {
		_ = database.Close()
		return nil, err
	}

	plans := int(float64(numTransactions) * installmentPct)
	for i := 0; i < plans; i++ {
		if err := ledger.addInstallmentPlan(ctx, rng); err != nil {
			_ = database.Close()
			return nil, err
		}
	}

	return ledger, nil
}

// Close closes the test database connection.
func (l *Ledger) Close() error {
	if l.DB != nil {
		return l.DB.Close()
	}
	return nil
}

// RunConcurrentQueries simulates numReaders concurrent clients each running
// queriesPerReader monthly spending queries, and returns the aggregated
// latency statistics.
func (l *Ledger) RunConcurrentQueries(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup

	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID)))
			durations := make([]time.Duration, 0, queriesPerReader)

			for j := 0; j < queriesPerReader; j++ {
				month := l.from.AddDate(0, rng.Intn(12), 0)

				start := time.Now()
				_, err := l.MonthlySpend(ctx, month)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					break
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no queries completed: %w", errors.Join(errs...))
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = len(errs)
	return stats, errors.Join(errs...)
}

// MonthlySpend returns the amount spent per category name in the month
// starting at month.
func (l *Ledger) MonthlySpend(ctx context.Context, month time.Time) (map[string]float64, error) {
	from := monthStart(month)
	rows, err := l.DB.Conn().QueryContext(ctx, monthlySpendQuery,
		from.Format(dateLayout), from.AddDate(0, 1, 0).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly spend: %w", err)
	}
	defer rows.Close()

	spend := make(map[string]float64, len(l.CategoryIDs))
	for rows.Next() {
		var name string
		var total float64
		if err := rows.Scan(&name, &total); err != nil {
			return nil, fmt.Errorf("failed to scan monthly spend: %w", err)
		}
		spend[name] = total
	}
	return spend, rows.Err()
}

// VerifyConsistency runs numReaders readers against one writer that keeps
// adding installment plans for duration. Each plan and its schedule are
// written in one transaction, so no reader may ever see a plan whose
// schedule is incomplete.
func (l *Ledger) VerifyConsistency(ctx context.Context, numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(7))
		for ctx.Err() == nil {
			if err := l.addInstallmentPlan(ctx, rng); err != nil && ctx.Err() == nil {
				errorsChan <- fmt.Errorf("writer failed: %w", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()
			for ctx.Err() == nil {
				var incomplete int
				err := l.DB.Conn().QueryRowContext(ctx, incompletePlansQuery).Scan(&incomplete)
				if err != nil {
					if ctx.Err() == nil {
						errorsChan <- fmt.Errorf("reader %d failed: %w", readerID, err)
					}
					return
				}
				if incomplete != 0 {
					errorsChan <- fmt.Errorf("reader %d saw %d installment plans with an incomplete schedule", readerID, incomplete)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	if err, ok := <-errorsChan; ok {
		return err
	}
	return nil
}

// GetStats returns statistics about the test ledger.
func (l *Ledger) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{
		"categories":   len(l.CategoryIDs),
		"transactions": l.Transactions,
		"installments": l.Installments,
		"from":         l.from.Format(dateLayout),
		"to":           l.to.Format(dateLayout),
	}
}

func (l *Ledger) insertTransactions(ctx context.Context, rng *rand.Rand, count int) error {
	tx, err := l.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO transactions (category_id, amount, transaction_date, note) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	days := int(l.to.Sub(l.from).Hours() / 24)
	for i := 0; i < count; i++ {
		category := l.CategoryIDs[rng.Intn(len(l.CategoryIDs))]
		// Mostly small purchases with the occasional large one
		amount := float64(rng.Intn(5000)+100) / 100
		if rng.Intn(20) == 0 {
			amount *= 20
		}
		date := l.from.AddDate(0, 0, rng.Intn(days))

		if _, err := stmt.ExecContext(ctx, category, amount, date.Format(dateLayout),
			fmt.Sprintf("loadtest %d", i)); err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	l.Transactions += count
	return nil
}

// addInstallmentPlan writes one plan and its full schedule atomically.
func (l *Ledger) addInstallmentPlan(ctx context.Context, rng *rand.Rand) error {
	category := l.CategoryIDs[rng.Intn(len(l.CategoryIDs))]
	months := rng.Intn(10) + 3
	total := float64(rng.Intn(200000)+10000) / 100
	start := l.from.AddDate(0, rng.Intn(12), 0)

	tx, err := l.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO installments (category_id, total_amount, installment_count, start_date, note) VALUES (?, ?, ?, ?, ?)",
		category, total, months, start.Format(dateLayout), "loadtest plan")
	if err != nil {
		return fmt.Errorf("failed to insert installment: %w", err)
	}
	planID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read installment id: %w", err)
	}

	for seq := 1; seq <= months; seq++ {
		due := start.AddDate(0, seq-1, 0)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO installment_details (installment_id, sequence_number, amount, due_date, is_paid) VALUES (?, ?, ?, ?, ?)",
			planID, seq, total/float64(months), due.Format(dateLayout), boolInt(due.Before(l.to))); err != nil {
			return fmt.Errorf("failed to insert installment detail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit installment: %w", err)
	}

	l.mu.Lock()
	l.Installments++
	l.mu.Unlock()
	return nil
}

func categoryIDs(ctx context.Context, conn *sql.DB) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, "SELECT id FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no categories to attach transactions to")
	}
	return ids, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
