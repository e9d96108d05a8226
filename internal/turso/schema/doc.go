// Package schema defines and migrates the ledger database schema.
//
// # Overview
//
// Every startup runs Migrate on the freshly opened connection, in both
// local-only and cloud mode. Migrations are pure additions (CREATE TABLE IF
// NOT EXISTS, CREATE INDEX IF NOT EXISTS) and are safe to re-run; nothing in
// this package ever drops or rewrites existing data.
//
// # Tables
//
//	categories           id, name, icon, created_at, updated_at
//	transactions         id, category_id -> categories, amount,
//	                     transaction_date, note, created_at
//	installments         id, category_id -> categories, total_amount,
//	                     installment_count, start_date, note, created_at
//	installment_details  id, installment_id -> installments,
//	                     sequence_number, amount, due_date, is_paid, paid_date
//
// All foreign keys cascade on delete. Dates are stored as TEXT
// (YYYY-MM-DD or SQLite datetime('now') output).
//
// # Seeding
//
// When the categories table is empty after the tables exist, the six
// DefaultCategories are inserted. The gate is emptiness, not a version flag:
// a user who deletes every category gets the defaults back on the next start.
//
// # Usage
//
//	if err := schema.Migrate(ctx, database.Conn()); err != nil {
//	    return err
//	}
//	counts, err := schema.Counts(ctx, database.Conn())
package schema
