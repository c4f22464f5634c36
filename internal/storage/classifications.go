package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const classificationColumns = `invoice_id, tenant_id, family_code, subfamily_code, account_code,
	family_confidence, subfamily_confidence, account_confidence, declared_usage,
	override, override_reason, low_confidence, fallback_phases, classified_at`

// SaveClassification supersedes the current classification of an invoice and appends it to history.
func (s *SQLiteStorage) SaveClassification(ctx context.Context, result *model.ClassificationResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateClassification(result); err != nil {
		return err
	}

	if result.ClassifiedAt.IsZero() {
		result.ClassifiedAt = time.Now().UTC()
	}

	fallback, err := json.Marshal(result.FallbackPhases)
	if err != nil {
		return fmt.Errorf("failed to encode fallback phases: %w", err)
	}
	if result.FallbackPhases == nil {
		fallback = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var invoiceTenant string
	err = tx.QueryRowContext(ctx, `SELECT tenant_id FROM invoices WHERE id = ?`, result.InvoiceID).Scan(&invoiceTenant)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invoice %s: %w", result.InvoiceID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoiceTenant != result.TenantID {
		return common.NewInvariantError(result.InvoiceID, "classification tenant does not own the invoice")
	}

	args := []any{
		result.InvoiceID,
		result.TenantID,
		result.FamilyCode,
		result.SubfamilyCode,
		result.AccountCode,
		result.FamilyConfidence,
		result.SubfamilyConfidence,
		result.AccountConfidence,
		result.DeclaredUsage,
		result.Override,
		result.OverrideReason,
		result.LowConfidence,
		string(fallback),
		result.ClassifiedAt.UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO classifications (`+classificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET
			family_code = excluded.family_code,
			subfamily_code = excluded.subfamily_code,
			account_code = excluded.account_code,
			family_confidence = excluded.family_confidence,
			subfamily_confidence = excluded.subfamily_confidence,
			account_confidence = excluded.account_confidence,
			declared_usage = excluded.declared_usage,
			override = excluded.override,
			override_reason = excluded.override_reason,
			low_confidence = excluded.low_confidence,
			fallback_phases = excluded.fallback_phases,
			classified_at = excluded.classified_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO classification_history (`+classificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to append classification history: %w", err)
	}

	return tx.Commit()
}

// GetClassification returns the current classification of an invoice.
func (s *SQLiteStorage) GetClassification(ctx context.Context, invoiceID string) (*model.ClassificationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}

	results, err := s.queryClassifications(ctx,
		`SELECT `+classificationColumns+` FROM classifications WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("classification for invoice %s: %w", invoiceID, common.ErrNotFound)
	}
	return &results[0], nil
}

// GetClassificationHistory returns every classification ever saved for an invoice, oldest first.
func (s *SQLiteStorage) GetClassificationHistory(ctx context.Context, invoiceID string) ([]model.ClassificationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}

	return s.queryClassifications(ctx, `
		SELECT `+classificationColumns+`
		FROM classification_history
		WHERE invoice_id = ?
		ORDER BY id
	`, invoiceID)
}

func (s *SQLiteStorage) queryClassifications(ctx context.Context, query string, args ...any) ([]model.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.ClassificationResult
	for rows.Next() {
		var r model.ClassificationResult
		var fallback string
		var classifiedAt time.Time

		if err := rows.Scan(
			&r.InvoiceID,
			&r.TenantID,
			&r.FamilyCode,
			&r.SubfamilyCode,
			&r.AccountCode,
			&r.FamilyConfidence,
			&r.SubfamilyConfidence,
			&r.AccountConfidence,
			&r.DeclaredUsage,
			&r.Override,
			&r.OverrideReason,
			&r.LowConfidence,
			&fallback,
			&classifiedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}

		if err := json.Unmarshal([]byte(fallback), &r.FallbackPhases); err != nil {
			return nil, fmt.Errorf("failed to decode fallback phases: %w", err)
		}
		if len(r.FallbackPhases) == 0 {
			r.FallbackPhases = nil
		}
		r.ClassifiedAt = classifiedAt.UTC()
		results = append(results, r)
	}

	return results, rows.Err()
}
