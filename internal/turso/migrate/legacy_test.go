package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/tally/internal/turso/db"
	"github.com/mschirtzinger/tally/internal/turso/schema"
)

// openMigrated opens a local database at path with the current schema.
func openMigrated(t *testing.T, path string) db.Database {
	t.Helper()
	database, err := db.NewLibSQL().OpenLocal(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	if err := schema.Migrate(context.Background(), database.Conn()); err != nil {
		t.Fatalf("failed to migrate %s: %v", path, err)
	}
	return database
}

func mustExec(t *testing.T, conn *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q failed: %v", query, err)
	}
}

// writeLegacy creates {dbPath}.legacy holding a small ledger.
func writeLegacy(t *testing.T, dbPath string) {
	t.Helper()
	legacy := openMigrated(t, db.LegacyPath(dbPath))
	conn := legacy.Conn()

	mustExec(t, conn, `UPDATE categories SET name = 'Dining' WHERE id = 1`)
	mustExec(t, conn, `INSERT INTO categories (id, name, icon) VALUES (7, 'Travel', '✈️')`)
	mustExec(t, conn, `INSERT INTO transactions (id, category_id, amount, note) VALUES (1, 1, 12.50, 'lunch')`)
	mustExec(t, conn, `INSERT INTO transactions (id, category_id, amount, note) VALUES (2, 7, 320, 'train')`)
	mustExec(t, conn, `INSERT INTO installments (id, category_id, total_amount, installment_count, start_date) VALUES (1, 4, 1200, 3, '2024-01-01')`)
	for i := 1; i <= 3; i++ {
		mustExec(t, conn, `INSERT INTO installment_details (installment_id, sequence_number, amount, due_date) VALUES (1, ?, 400, ?)`,
			i, fmt.Sprintf("2024-%02d-01", i))
	}

	if err := legacy.Close(); err != nil {
		t.Fatalf("failed to close legacy database: %v", err)
	}
}

func TestHasLegacy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")

	if HasLegacy(dbPath) {
		t.Error("HasLegacy() = true with no backup")
	}

	if err := os.MkdirAll(db.LegacyPath(dbPath), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if HasLegacy(dbPath) {
		t.Error("HasLegacy() = true for a directory")
	}
}

func TestFromLegacy_NoBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	current := openMigrated(t, dbPath)
	defer current.Close()

	_, err := FromLegacy(context.Background(), dbPath, current.Conn())
	if !errors.Is(err, ErrNoLegacy) {
		t.Fatalf("FromLegacy() = %v, want ErrNoLegacy", err)
	}
	if !strings.Contains(err.Error(), "no legacy backup found") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestFromLegacy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	writeLegacy(t, dbPath)

	current := openMigrated(t, dbPath)
	defer current.Close()

	result, err := FromLegacy(context.Background(), dbPath, current.Conn())
	if err != nil {
		t.Fatalf("FromLegacy() failed: %v", err)
	}

	want := Result{Categories: 7, Transactions: 2, Installments: 1, InstallmentDetails: 3}
	if *result != want {
		t.Errorf("result = %+v, want %+v", *result, want)
	}
	if result.Total() != 13 {
		t.Errorf("Total() = %d, want 13", result.Total())
	}
	if got := result.String(); got != "Migrated 7 categories, 2 transactions, 1 installments, 3 installment details" {
		t.Errorf("String() = %q", got)
	}

	var name string
	if err := current.Conn().QueryRow(`SELECT name FROM categories WHERE id = 1`).Scan(&name); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if name != "Dining" {
		t.Errorf("category 1 = %q, want legacy value Dining", name)
	}

	if !HasLegacy(dbPath) {
		t.Error("legacy backup removed by migration")
	}
}

func TestFromLegacy_RunTwice(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	writeLegacy(t, dbPath)

	current := openMigrated(t, dbPath)
	defer current.Close()
	ctx := context.Background()

	if _, err := FromLegacy(ctx, dbPath, current.Conn()); err != nil {
		t.Fatalf("first FromLegacy() failed: %v", err)
	}
	first, err := schema.Counts(ctx, current.Conn())
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}

	if _, err := FromLegacy(ctx, dbPath, current.Conn()); err != nil {
		t.Fatalf("second FromLegacy() failed: %v", err)
	}
	second, err := schema.Counts(ctx, current.Conn())
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}

	for _, table := range schema.Tables {
		if first[table] != second[table] {
			t.Errorf("%s: %d rows after first run, %d after second", table, first[table], second[table])
		}
	}
}

func TestFromLegacy_KeepsChildrenOfUpdatedRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	writeLegacy(t, dbPath)

	current := openMigrated(t, dbPath)
	defer current.Close()

	// A row created after recovery whose parent is also in the legacy file.
	mustExec(t, current.Conn(), `INSERT INTO transactions (id, category_id, amount, note) VALUES (100, 1, 5, 'coffee')`)

	if _, err := FromLegacy(context.Background(), dbPath, current.Conn()); err != nil {
		t.Fatalf("FromLegacy() failed: %v", err)
	}

	var note string
	if err := current.Conn().QueryRow(`SELECT note FROM transactions WHERE id = 100`).Scan(&note); err != nil {
		t.Fatalf("post-recovery transaction lost: %v", err)
	}
}

func TestFromLegacy_MissingTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")

	old, err := db.NewLibSQL().OpenLocal(context.Background(), db.LegacyPath(dbPath))
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	mustExec(t, old.Conn(), `CREATE TABLE categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		icon TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	mustExec(t, old.Conn(), `INSERT INTO categories (id, name) VALUES (42, 'Pets')`)
	_ = old.Close()

	current := openMigrated(t, dbPath)
	defer current.Close()

	result, err := FromLegacy(context.Background(), dbPath, current.Conn())
	if err != nil {
		t.Fatalf("FromLegacy() failed: %v", err)
	}
	if result.Categories != 1 || result.Transactions != 0 {
		t.Errorf("result = %+v, want only one category", *result)
	}
}

func TestFromLegacy_OlderColumnSet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")

	old, err := db.NewLibSQL().OpenLocal(context.Background(), db.LegacyPath(dbPath))
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	// Before updated_at existed
	mustExec(t, old.Conn(), `CREATE TABLE categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		icon TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	mustExec(t, old.Conn(), `INSERT INTO categories (id, name, icon) VALUES (1, 'Dining', '🍽️')`)
	mustExec(t, old.Conn(), `INSERT INTO categories (id, name, icon) VALUES (42, 'Pets', '🐾')`)
	_ = old.Close()

	current := openMigrated(t, dbPath)
	defer current.Close()

	result, err := FromLegacy(context.Background(), dbPath, current.Conn())
	if err != nil {
		t.Fatalf("FromLegacy() failed: %v", err)
	}
	if result.Categories != 2 {
		t.Errorf("categories copied = %d, want 2", result.Categories)
	}

	var name, updatedAt string
	err = current.Conn().QueryRow(`SELECT name, updated_at FROM categories WHERE id = 42`).Scan(&name, &updatedAt)
	if err != nil {
		t.Fatalf("copied category missing: %v", err)
	}
	if name != "Pets" || updatedAt == "" {
		t.Errorf("category 42 = (%q, %q), want Pets with a default updated_at", name, updatedAt)
	}

	if err := current.Conn().QueryRow(`SELECT name FROM categories WHERE id = 1`).Scan(&name); err != nil {
		t.Fatalf("category 1 missing: %v", err)
	}
	if name != "Dining" {
		t.Errorf("category 1 name = %q, want Dining", name)
	}
}

func TestSharedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := db.NewLibSQL().OpenLocal(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenLocal failed: %v", err)
	}
	defer old.Close()
	mustExec(t, old.Conn(), `CREATE TABLE transactions (id INTEGER PRIMARY KEY, amount REAL, category_id INTEGER, legacy_flag INTEGER)`)

	got, err := sharedColumns(context.Background(), old.Conn(), schema.TableTransactions)
	if err != nil {
		t.Fatalf("sharedColumns() failed: %v", err)
	}
	want := "id, category_id, amount"
	if strings.Join(got, ", ") != want {
		t.Errorf("sharedColumns() = %v, want %s", got, want)
	}
}

func TestUpsertStatement(t *testing.T) {
	got := upsertStatement("categories", []string{"id", "name", "icon"})
	want := "INSERT INTO categories (id, name, icon) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name, icon = excluded.icon"
	if got != want {
		t.Errorf("upsertStatement() =\n%s\nwant\n%s", got, want)
	}

	got = upsertStatement("categories", []string{"id"})
	want = "INSERT INTO categories (id) VALUES (?) ON CONFLICT(id) DO NOTHING"
	if got != want {
		t.Errorf("upsertStatement(id only) = %s, want %s", got, want)
	}
}
