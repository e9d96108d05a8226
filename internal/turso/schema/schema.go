package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Table names in foreign key dependency order: every table only references
// tables listed before it.
const (
	TableCategories         = "categories"
	TableTransactions       = "transactions"
	TableInstallments       = "installments"
	TableInstallmentDetails = "installment_details"
)

// Tables lists the ledger tables in dependency order.
var Tables = []string{
	TableCategories,
	TableTransactions,
	TableInstallments,
	TableInstallmentDetails,
}

// Columns lists each table's columns in declaration order.
var Columns = map[string][]string{
	TableCategories:         {"id", "name", "icon", "created_at", "updated_at"},
	TableTransactions:       {"id", "category_id", "amount", "transaction_date", "note", "created_at"},
	TableInstallments:       {"id", "category_id", "total_amount", "installment_count", "start_date", "note", "created_at"},
	TableInstallmentDetails: {"id", "installment_id", "sequence_number", "amount", "due_date", "is_paid", "paid_date"},
}

// Category is a seeded category preset.
type Category struct {
	Name string
	Icon string
}

// DefaultCategories are inserted into an empty categories table.
var DefaultCategories = []Category{
	{Name: "Food", Icon: "🍔"},
	{Name: "Groceries", Icon: "🛒"},
	{Name: "Transport", Icon: "🚗"},
	{Name: "Housing", Icon: "🏠"},
	{Name: "Entertainment", Icon: "🎮"},
	{Name: "Other", Icon: "📦"},
}

var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		icon TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id INTEGER NOT NULL,
		amount REAL NOT NULL,
		transaction_date TEXT NOT NULL DEFAULT (datetime('now')),
		note TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS installments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id INTEGER NOT NULL,
		total_amount REAL NOT NULL,
		installment_count INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS installment_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		installment_id INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		amount REAL NOT NULL,
		due_date TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		paid_date TEXT,
		FOREIGN KEY (installment_id) REFERENCES installments(id) ON DELETE CASCADE
	)`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(transaction_date)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_installment_details_due_date ON installment_details(due_date)`,
}

// Migrate brings conn up to the current schema. It is idempotent.
//
// Foreign key enforcement is switched on first, then tables, indexes and
// default categories are created as needed. Any SQL error aborts the
// migration.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, stmt := range tableStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, stmt := range indexStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := seedCategories(ctx, conn); err != nil {
		return fmt.Errorf("failed to seed categories: %w", err)
	}

	return nil
}

// seedCategories inserts DefaultCategories when the table is empty.
func seedCategories(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return fmt.Errorf("failed to count categories: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, c := range DefaultCategories {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO categories (name, icon) VALUES (?, ?)", c.Name, c.Icon); err != nil {
			return fmt.Errorf("failed to insert category %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Counts returns the number of rows in each ledger table.
func Counts(ctx context.Context, conn *sql.DB) (map[string]int, error) {
	counts := make(map[string]int, len(Tables))
	for _, table := range Tables {
		var n int
		// Table names come from the fixed Tables list.
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
