package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Normalized transactions and invoices",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					amount TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_tenant_date ON transactions(tenant_id, date)`,

				`CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					uuid TEXT UNIQUE NOT NULL,
					tenant_id TEXT NOT NULL,
					kind TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT '',
					issue_date DATETIME NOT NULL,
					total TEXT NOT NULL,
					counterpart_rfc TEXT NOT NULL DEFAULT '',
					counterpart_name TEXT NOT NULL DEFAULT '',
					usage_code TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_invoices_tenant_date ON invoices(tenant_id, issue_date)`,

				`CREATE TABLE IF NOT EXISTS invoice_line_items (
					invoice_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					description TEXT NOT NULL,
					quantity TEXT NOT NULL,
					unit_price TEXT NOT NULL,
					PRIMARY KEY (invoice_id, position),
					FOREIGN KEY (invoice_id) REFERENCES invoices(id) ON DELETE CASCADE
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Reconciliation records and installment groups",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS installment_groups (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					invoice_id TEXT NOT NULL,
					status TEXT NOT NULL,
					invoice_total TEXT NOT NULL,
					matched_total TEXT NOT NULL,
					first_date DATETIME,
					last_date DATETIME,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (invoice_id) REFERENCES invoices(id)
				)`,
				// One installment group per invoice
				`CREATE UNIQUE INDEX idx_installment_groups_invoice ON installment_groups(invoice_id)`,

				`CREATE TABLE IF NOT EXISTS reconciliation_records (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					invoice_id TEXT NOT NULL,
					group_id TEXT,
					method TEXT NOT NULL,
					amount TEXT NOT NULL,
					confidence REAL DEFAULT 0,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					active INTEGER NOT NULL DEFAULT 1,
					FOREIGN KEY (transaction_id) REFERENCES transactions(id),
					FOREIGN KEY (invoice_id) REFERENCES invoices(id),
					FOREIGN KEY (group_id) REFERENCES installment_groups(id)
				)`,
				// A transaction appears in at most one active record
				`CREATE UNIQUE INDEX idx_reconciliation_active_transaction
					ON reconciliation_records(transaction_id) WHERE active = 1`,
				// Outside installment groups an invoice is matched at most once
				`CREATE UNIQUE INDEX idx_reconciliation_active_single_invoice
					ON reconciliation_records(invoice_id) WHERE active = 1 AND group_id IS NULL`,
				`CREATE INDEX idx_reconciliation_tenant ON reconciliation_records(tenant_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Invoice classifications with audit history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS classifications (
					invoice_id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					family_code TEXT NOT NULL,
					subfamily_code TEXT NOT NULL DEFAULT '',
					account_code TEXT NOT NULL DEFAULT '',
					family_confidence REAL DEFAULT 0,
					subfamily_confidence REAL DEFAULT 0,
					account_confidence REAL DEFAULT 0,
					declared_usage TEXT NOT NULL DEFAULT '',
					override INTEGER NOT NULL DEFAULT 0,
					override_reason TEXT NOT NULL DEFAULT '',
					low_confidence INTEGER NOT NULL DEFAULT 0,
					fallback_phases TEXT NOT NULL DEFAULT '[]',
					classified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (invoice_id) REFERENCES invoices(id)
				)`,
				`CREATE INDEX idx_classifications_family ON classifications(family_code)`,

				`CREATE TABLE IF NOT EXISTS classification_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					invoice_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					family_code TEXT NOT NULL,
					subfamily_code TEXT NOT NULL DEFAULT '',
					account_code TEXT NOT NULL DEFAULT '',
					family_confidence REAL DEFAULT 0,
					subfamily_confidence REAL DEFAULT 0,
					account_confidence REAL DEFAULT 0,
					declared_usage TEXT NOT NULL DEFAULT '',
					override INTEGER NOT NULL DEFAULT 0,
					override_reason TEXT NOT NULL DEFAULT '',
					low_confidence INTEGER NOT NULL DEFAULT 0,
					fallback_phases TEXT NOT NULL DEFAULT '[]',
					classified_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (invoice_id) REFERENCES invoices(id)
				)`,
				`CREATE INDEX idx_classification_history_invoice ON classification_history(invoice_id)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Tenant business context",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS business_contexts (
					tenant_id TEXT PRIMARY KEY,
					industry TEXT NOT NULL DEFAULT '',
					typical_categories TEXT NOT NULL DEFAULT '[]',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the schema version currently applied to the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
