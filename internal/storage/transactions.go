package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SaveTransactions saves multiple transactions to the database.
// Transactions are immutable: re-importing an existing hash is a no-op.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			id, tenant_id, account_id, hash, date, description, amount
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}

		_, err = stmt.ExecContext(ctx,
			txn.ID,
			txn.TenantID,
			txn.AccountID,
			txn.Hash,
			txn.Date.UTC(),
			txn.Description,
			txn.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetTransactions returns every transaction of a tenant ordered by date.
func (s *SQLiteStorage) GetTransactions(ctx context.Context, tenantID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	return s.queryTransactions(ctx, s.db, `
		SELECT id, tenant_id, account_id, hash, date, description, amount
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY date, id
	`, tenantID)
}

// GetUnmatchedTransactions returns the tenant's transactions without an active reconciliation record.
func (s *SQLiteStorage) GetUnmatchedTransactions(ctx context.Context, tenantID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	return s.queryTransactions(ctx, s.db, `
		SELECT t.id, t.tenant_id, t.account_id, t.hash, t.date, t.description, t.amount
		FROM transactions t
		WHERE t.tenant_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM reconciliation_records r
			WHERE r.transaction_id = t.id AND r.active = 1
		  )
		ORDER BY t.date, t.id
	`, tenantID)
}

func (s *SQLiteStorage) queryTransactions(ctx context.Context, q queryable, query string, args ...any) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (model.Transaction, error) {
	var txn model.Transaction
	var date time.Time

	err := rows.Scan(
		&txn.ID,
		&txn.TenantID,
		&txn.AccountID,
		&txn.Hash,
		&date,
		&txn.Description,
		&txn.Amount,
	)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn.Date = date.UTC()

	return txn, nil
}
