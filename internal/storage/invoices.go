package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const invoiceColumns = `i.id, i.uuid, i.tenant_id, i.kind, i.status, i.issue_date, i.total,
	i.counterpart_rfc, i.counterpart_name, i.usage_code`

// SaveInvoices upserts invoices with their line items.
// Re-importing an invoice refreshes its status and concepts; identity fields never change.
func (s *SQLiteStorage) SaveInvoices(ctx context.Context, invoices []model.Invoice) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateInvoices(invoices); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range invoices {
		inv := &invoices[i]

		var existingTenant string
		err := tx.QueryRowContext(ctx,
			`SELECT tenant_id FROM invoices WHERE uuid = ? AND id != ?`, inv.UUID, inv.ID,
		).Scan(&existingTenant)
		switch {
		case err == nil:
			return fmt.Errorf("%w: invoice uuid %s already stored under another ID", common.ErrDuplicateEntry, inv.UUID)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check invoice uuid: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoices (
				id, uuid, tenant_id, kind, status, issue_date, total,
				counterpart_rfc, counterpart_name, usage_code
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				counterpart_name = excluded.counterpart_name,
				usage_code = excluded.usage_code
		`,
			inv.ID,
			inv.UUID,
			inv.TenantID,
			string(inv.Kind),
			string(inv.Status),
			inv.IssueDate.UTC(),
			inv.Total.String(),
			inv.CounterpartRFC,
			inv.CounterpartName,
			inv.UsageCode,
		)
		if err != nil {
			return fmt.Errorf("failed to save invoice %s: %w", inv.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_line_items WHERE invoice_id = ?`, inv.ID); err != nil {
			return fmt.Errorf("failed to clear line items for %s: %w", inv.ID, err)
		}
		for pos, item := range inv.LineItems {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO invoice_line_items (invoice_id, position, description, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?)
			`, inv.ID, pos, item.Description, item.Quantity.String(), item.UnitPrice.String())
			if err != nil {
				return fmt.Errorf("failed to save line item %d of %s: %w", pos, inv.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetInvoiceByUUID retrieves an invoice by its folio fiscal.
func (s *SQLiteStorage) GetInvoiceByUUID(ctx context.Context, uuid string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(uuid, "uuid"); err != nil {
		return nil, err
	}

	invoices, err := s.queryInvoices(ctx, s.db,
		`SELECT `+invoiceColumns+` FROM invoices i WHERE UPPER(i.uuid) = UPPER(?)`, uuid)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("invoice %s: %w", uuid, common.ErrNotFound)
	}
	return &invoices[0], nil
}

// GetInvoice retrieves an invoice by its internal ID.
func (s *SQLiteStorage) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	invoices, err := s.queryInvoices(ctx, s.db,
		`SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("invoice %s: %w", id, common.ErrNotFound)
	}
	return &invoices[0], nil
}

// GetInvoices returns every invoice of a tenant ordered by issue date.
func (s *SQLiteStorage) GetInvoices(ctx context.Context, tenantID string) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	return s.queryInvoices(ctx, s.db, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.tenant_id = ?
		ORDER BY i.issue_date, i.id
	`, tenantID)
}

// GetUnmatchedInvoices returns invoices that are neither matched nor part of an installment group.
// Invoices with an open group are excluded too; the reconciler continues those through
// GetOpenInstallmentGroups.
func (s *SQLiteStorage) GetUnmatchedInvoices(ctx context.Context, tenantID string) ([]model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	return s.queryInvoices(ctx, s.db, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.tenant_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM reconciliation_records r
			WHERE r.invoice_id = i.id AND r.active = 1
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM installment_groups g WHERE g.invoice_id = i.id
		  )
		ORDER BY i.issue_date, i.id
	`, tenantID)
}

func (s *SQLiteStorage) queryInvoices(ctx context.Context, q queryable, query string, args ...any) ([]model.Invoice, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}

	var invoices []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var kind, status string
		var issueDate time.Time

		err := rows.Scan(
			&inv.ID,
			&inv.UUID,
			&inv.TenantID,
			&kind,
			&status,
			&issueDate,
			&inv.Total,
			&inv.CounterpartRFC,
			&inv.CounterpartName,
			&inv.UsageCode,
		)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		inv.Kind = model.InvoiceKind(kind)
		inv.Status = model.InvoiceStatus(status)
		inv.IssueDate = issueDate.UTC()
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	_ = rows.Close()

	// Line items are loaded after the cursor is closed; the pool holds a single connection.
	for i := range invoices {
		items, err := s.lineItems(ctx, q, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].LineItems = items
	}

	return invoices, nil
}

func (s *SQLiteStorage) lineItems(ctx context.Context, q queryable, invoiceID string) ([]model.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT description, quantity, unit_price
		FROM invoice_line_items
		WHERE invoice_id = ?
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
