package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ApplyMatch persists a single transaction-to-invoice match atomically.
func (s *SQLiteStorage) ApplyMatch(ctx context.Context, record *model.ReconciliationRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	if record.Method != model.MethodExact || record.GroupID != "" {
		return fmt.Errorf("%w: single matches cannot belong to a group", ErrInvalidRecord)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkPair(ctx, tx, record); err != nil {
		return err
	}

	var grouped int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM installment_groups WHERE invoice_id = ?`, record.InvoiceID,
	).Scan(&grouped); err != nil {
		return fmt.Errorf("failed to check installment groups: %w", err)
	}
	if grouped > 0 {
		return common.NewInvariantError(record.InvoiceID, "invoice already belongs to an installment group")
	}

	if err := insertRecord(ctx, tx, record); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match: %w", err)
	}
	return nil
}

// ApplyInstallmentGroup creates or extends an installment group together with its new records.
// The group row is rewritten from the persisted records so MatchedTotal always equals
// the sum of its active records.
func (s *SQLiteStorage) ApplyInstallmentGroup(ctx context.Context, group *model.InstallmentGroup, records []model.ReconciliationRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGroup(group, records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var invoiceTenant, status string
	var total decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT tenant_id, status, total FROM invoices WHERE id = ?`, group.InvoiceID,
	).Scan(&invoiceTenant, &status, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invoice %s: %w", group.InvoiceID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoiceTenant != group.TenantID {
		return common.NewInvariantError(group.ID, "group tenant does not own the invoice")
	}
	if model.InvoiceStatus(status) == model.InvoiceStatusCancelled {
		return common.NewInvariantError(group.InvoiceID, "cancelled invoices cannot be matched")
	}

	var singles int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reconciliation_records
		WHERE invoice_id = ? AND active = 1 AND group_id IS NULL
	`, group.InvoiceID).Scan(&singles); err != nil {
		return fmt.Errorf("failed to check single matches: %w", err)
	}
	if singles > 0 {
		return common.NewInvariantError(group.InvoiceID, "invoice already has a single match")
	}

	var existingInvoice string
	err = tx.QueryRowContext(ctx,
		`SELECT invoice_id FROM installment_groups WHERE id = ?`, group.ID,
	).Scan(&existingInvoice)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO installment_groups (id, tenant_id, invoice_id, status, invoice_total, matched_total, updated_at)
			VALUES (?, ?, ?, ?, ?, '0', ?)
		`, group.ID, group.TenantID, group.InvoiceID, string(group.Status), total.String(), time.Now().UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return common.NewInvariantError(group.InvoiceID, "invoice already has a different installment group")
			}
			return fmt.Errorf("failed to save installment group: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to load installment group: %w", err)
	case existingInvoice != group.InvoiceID:
		return common.NewInvariantError(group.ID, "group belongs to another invoice")
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE installment_groups SET status = ?, updated_at = ? WHERE id = ?
		`, string(group.Status), time.Now().UTC(), group.ID); err != nil {
			return fmt.Errorf("failed to update installment group: %w", err)
		}
	}

	for i := range records {
		if err := s.checkPair(ctx, tx, &records[i]); err != nil {
			return err
		}
		if err := insertRecord(ctx, tx, &records[i]); err != nil {
			return err
		}
	}

	sum, first, last, err := groupTotals(ctx, tx, group.ID)
	if err != nil {
		return err
	}
	if sum.GreaterThan(total.Add(s.amountTolerance)) {
		return common.NewInvariantError(group.ID,
			fmt.Sprintf("matched total %s exceeds invoice total %s beyond tolerance", sum.StringFixed(2), total.StringFixed(2)))
	}
	if group.Status == model.GroupComplete && total.Sub(sum).Abs().GreaterThan(s.amountTolerance) {
		return common.NewInvariantError(group.ID,
			fmt.Sprintf("group marked complete with %s of %s matched", sum.StringFixed(2), total.StringFixed(2)))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE installment_groups
		SET matched_total = ?, first_date = ?, last_date = ?
		WHERE id = ?
	`, sum.String(), first, last, group.ID); err != nil {
		return fmt.Errorf("failed to update group totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit installment group: %w", err)
	}

	group.InvoiceTotal = total
	group.MatchedTotal = sum
	group.FirstDate = first
	group.LastDate = last
	return nil
}

// Unmatch deactivates the single match of a transaction, returning both records to their pools.
// Installment memberships cannot be undone one payment at a time.
func (s *SQLiteStorage) Unmatch(ctx context.Context, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var groupID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT group_id FROM reconciliation_records WHERE transaction_id = ? AND active = 1
	`, transactionID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("active match for transaction %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load match: %w", err)
	}
	if groupID.Valid {
		return common.NewUserError(
			fmt.Sprintf("transaction %s is part of installment group %s", transactionID, groupID.String),
			ErrInvalidRecord)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reconciliation_records SET active = 0 WHERE transaction_id = ? AND active = 1
	`, transactionID); err != nil {
		return fmt.Errorf("failed to deactivate match: %w", err)
	}

	return tx.Commit()
}

// GetActiveRecords returns every active reconciliation record of a tenant.
func (s *SQLiteStorage) GetActiveRecords(ctx context.Context, tenantID string) ([]model.ReconciliationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_id, invoice_id, group_id, method, amount, confidence, applied_at, active
		FROM reconciliation_records
		WHERE tenant_id = ? AND active = 1
		ORDER BY applied_at, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ReconciliationRecord
	for rows.Next() {
		var rec model.ReconciliationRecord
		var groupID sql.NullString
		var method string
		var appliedAt time.Time
		if err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.TransactionID,
			&rec.InvoiceID,
			&groupID,
			&method,
			&rec.Amount,
			&rec.Confidence,
			&appliedAt,
			&rec.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.GroupID = groupID.String
		rec.Method = model.MatchMethod(method)
		rec.AppliedAt = appliedAt.UTC()
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetOpenInstallmentGroups returns the tenant's groups that may still accept payments.
func (s *SQLiteStorage) GetOpenInstallmentGroups(ctx context.Context, tenantID string) ([]model.InstallmentGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	return s.queryGroups(ctx, `WHERE g.tenant_id = ? AND g.status = ?`, tenantID, string(model.GroupOpen))
}

// GetInstallmentGroups returns every installment group of a tenant.
func (s *SQLiteStorage) GetInstallmentGroups(ctx context.Context, tenantID string) ([]model.InstallmentGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	return s.queryGroups(ctx, `WHERE g.tenant_id = ?`, tenantID)
}

func (s *SQLiteStorage) queryGroups(ctx context.Context, where string, args ...any) ([]model.InstallmentGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.tenant_id, g.invoice_id, g.status, g.invoice_total, g.matched_total,
		       g.first_date, g.last_date, g.updated_at
		FROM installment_groups g
		JOIN invoices i ON i.id = g.invoice_id
		`+where+`
		ORDER BY i.issue_date, g.invoice_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installment groups: %w", err)
	}

	var groups []model.InstallmentGroup
	for rows.Next() {
		var g model.InstallmentGroup
		var status string
		var first, last sql.NullTime
		var updated time.Time
		if err := rows.Scan(
			&g.ID,
			&g.TenantID,
			&g.InvoiceID,
			&status,
			&g.InvoiceTotal,
			&g.MatchedTotal,
			&first,
			&last,
			&updated,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan installment group: %w", err)
		}
		g.Status = model.GroupStatus(status)
		g.FirstDate = first.Time.UTC()
		g.LastDate = last.Time.UTC()
		g.UpdatedAt = updated.UTC()
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating installment groups: %w", err)
	}
	_ = rows.Close()

	for i := range groups {
		ids, err := groupTransactionIDs(ctx, s.db, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].TransactionIDs = ids
	}

	return groups, nil
}

// checkPair verifies that both sides of a record exist, belong to the record's tenant,
// and that the invoice is still payable.
func (s *SQLiteStorage) checkPair(ctx context.Context, q queryable, record *model.ReconciliationRecord) error {
	var txnTenant string
	err := q.QueryRowContext(ctx,
		`SELECT tenant_id FROM transactions WHERE id = ?`, record.TransactionID,
	).Scan(&txnTenant)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", record.TransactionID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	var invTenant, status string
	err = q.QueryRowContext(ctx,
		`SELECT tenant_id, status FROM invoices WHERE id = ?`, record.InvoiceID,
	).Scan(&invTenant, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invoice %s: %w", record.InvoiceID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}

	if txnTenant != record.TenantID || invTenant != record.TenantID {
		return common.NewInvariantError(record.ID, "transaction and invoice must belong to the record's tenant")
	}
	if model.InvoiceStatus(status) == model.InvoiceStatusCancelled {
		return common.NewInvariantError(record.InvoiceID, "cancelled invoices cannot be matched")
	}
	return nil
}

func insertRecord(ctx context.Context, q queryable, record *model.ReconciliationRecord) error {
	if record.AppliedAt.IsZero() {
		record.AppliedAt = time.Now().UTC()
	}
	record.Active = true

	var groupID any
	if record.GroupID != "" {
		groupID = record.GroupID
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO reconciliation_records (
			id, tenant_id, transaction_id, invoice_id, group_id, method, amount, confidence, applied_at, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		record.ID,
		record.TenantID,
		record.TransactionID,
		record.InvoiceID,
		groupID,
		string(record.Method),
		record.Amount.String(),
		record.Confidence,
		record.AppliedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return common.NewInvariantError(record.TransactionID,
				fmt.Sprintf("transaction or invoice %s already has an active match", record.InvoiceID))
		}
		return fmt.Errorf("failed to insert record %s: %w", record.ID, err)
	}
	return nil
}

// groupTotals sums a group's active records and reports its first and last payment dates.
func groupTotals(ctx context.Context, q queryable, groupID string) (decimal.Decimal, time.Time, time.Time, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.amount, t.date
		FROM reconciliation_records r
		JOIN transactions t ON t.id = r.transaction_id
		WHERE r.group_id = ? AND r.active = 1
		ORDER BY t.date, t.id
	`, groupID)
	if err != nil {
		return decimal.Zero, time.Time{}, time.Time{}, fmt.Errorf("failed to sum group: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sum := decimal.Zero
	var first, last time.Time
	for rows.Next() {
		var amount decimal.Decimal
		var date time.Time
		if err := rows.Scan(&amount, &date); err != nil {
			return decimal.Zero, time.Time{}, time.Time{}, fmt.Errorf("failed to scan group record: %w", err)
		}
		sum = sum.Add(amount)
		if first.IsZero() {
			first = date.UTC()
		}
		last = date.UTC()
	}
	return sum, first, last, rows.Err()
}

func groupTransactionIDs(ctx context.Context, q queryable, groupID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.transaction_id
		FROM reconciliation_records r
		JOIN transactions t ON t.id = r.transaction_id
		WHERE r.group_id = ? AND r.active = 1
		ORDER BY t.date, t.id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group transaction: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
