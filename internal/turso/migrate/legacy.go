// Package migrate copies ledger rows out of a quarantined database.
//
// When startup recovers from a sync conflict, the previous database is kept
// next to the fresh one as {db}.legacy. FromLegacy copies every row of every
// ledger table from that file into the live connection. Rows are upserted by
// primary key, so running the copy again converges instead of duplicating.
//
// The legacy file is never modified or removed here.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/schema"
)

// ErrNoLegacy is returned when there is no quarantined database to copy.
var ErrNoLegacy = errors.New("no legacy backup found")

// Result contains row counts copied per table
type Result struct {
	Categories         int
	Transactions       int
	Installments       int
	InstallmentDetails int
}

// Total returns the number of rows copied across all tables.
func (r *Result) Total() int {
	return r.Categories + r.Transactions + r.Installments + r.InstallmentDetails
}

// String returns a human summary, e.g.
// "Migrated 6 categories, 42 transactions, 2 installments, 24 installment details".
func (r *Result) String() string {
	return fmt.Sprintf("Migrated %d categories, %d transactions, %d installments, %d installment details",
		r.Categories, r.Transactions, r.Installments, r.InstallmentDetails)
}

func (r *Result) add(table string, n int) {
	switch table {
	case schema.TableCategories:
		r.Categories += n
	case schema.TableTransactions:
		r.Transactions += n
	case schema.TableInstallments:
		r.Installments += n
	case schema.TableInstallmentDetails:
		r.InstallmentDetails += n
	}
}

// HasLegacy reports whether a quarantined database exists for dbPath.
func HasLegacy(dbPath string) bool {
	info, err := os.Stat(db.LegacyPath(dbPath))
	return err == nil && !info.IsDir()
}

// FromLegacy copies all ledger rows from {dbPath}.legacy into dst.
//
// Tables are copied parents first (categories, transactions, installments,
// installment_details) inside one transaction on dst; any error rolls the
// whole copy back.
func FromLegacy(ctx context.Context, dbPath string, dst *sql.DB) (*Result, error) {
	if !HasLegacy(dbPath) {
		return nil, ErrNoLegacy
	}

	src, err := db.OpenReadOnly(ctx, db.LegacyPath(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer src.Close()

	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &Result{}
	for _, table := range schema.Tables {
		n, err := copyTable(ctx, src, tx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", table, err)
		}
		result.add(table, n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit legacy copy: %w", err)
	}
	return result, nil
}

// copyTable upserts every row of table from src into tx.
//
// A legacy file may predate a table or some of its columns. A missing source
// table copies nothing; only columns present on both sides are copied, and
// the rest keep their defaults in dst.
func copyTable(ctx context.Context, src *sql.DB, tx *sql.Tx, table string) (int, error) {
	exists, err := tableExists(ctx, src, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	columns, err := sharedColumns(ctx, src, table)
	if err != nil {
		return 0, err
	}
	if len(columns) == 0 || columns[0] != "id" {
		return 0, fmt.Errorf("legacy %s table has no id column", table)
	}
	list := strings.Join(columns, ", ")

	rows, err := src.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id", list, table))
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy rows: %w", err)
	}
	defer rows.Close()

	stmt, err := tx.PrepareContext(ctx, upsertStatement(table, columns))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, fmt.Errorf("failed to scan legacy row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return count, fmt.Errorf("failed to upsert row %v: %w", values[0], err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to iterate legacy rows: %w", err)
	}
	return count, nil
}

// upsertStatement builds an insert that updates the existing row on a
// primary key collision. Unlike INSERT OR REPLACE it never deletes the
// existing row, so ON DELETE CASCADE children in dst survive.
func upsertStatement(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, col := range columns {
		placeholders[i] = "?"
		if col != "id" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if len(updates) == 0 {
		return insert + " ON CONFLICT(id) DO NOTHING"
	}
	return insert + " ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")
}

func tableExists(ctx context.Context, conn *sql.DB, table string) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect legacy schema: %w", err)
	}
	return n > 0, nil
}

// sharedColumns returns the current columns of table, in schema order, that
// the legacy copy of table also has.
func sharedColumns(ctx context.Context, src *sql.DB, table string) ([]string, error) {
	rows, err := src.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect legacy columns: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan legacy column: %w", err)
		}
		present[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to inspect legacy columns: %w", err)
	}

	var columns []string
	for _, col := range schema.Columns[table] {
		if present[col] {
			columns = append(columns, col)
		}
	}
	return columns, nil
}
