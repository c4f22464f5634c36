package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SaveContext stores what a tenant's business does.
func (s *SQLiteStorage) SaveContext(ctx context.Context, bc model.BusinessContext) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(bc.TenantID, "tenantID"); err != nil {
		return err
	}

	categories := bc.TypicalCategories
	if categories == nil {
		categories = []string{}
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("failed to encode typical categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_contexts (tenant_id, industry, typical_categories, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			industry = excluded.industry,
			typical_categories = excluded.typical_categories,
			updated_at = excluded.updated_at
	`, bc.TenantID, bc.Industry, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save business context: %w", err)
	}
	return nil
}

// GetContext returns the tenant's business context.
// Tenants without a stored context get an empty one, which carries no boost.
func (s *SQLiteStorage) GetContext(ctx context.Context, tenantID string) (model.BusinessContext, error) {
	if err := validateContext(ctx); err != nil {
		return model.BusinessContext{}, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return model.BusinessContext{}, err
	}

	bc := model.BusinessContext{TenantID: tenantID}
	var encoded string
	err := s.db.QueryRowContext(ctx, `
		SELECT industry, typical_categories FROM business_contexts WHERE tenant_id = ?
	`, tenantID).Scan(&bc.Industry, &encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return bc, nil
	}
	if err != nil {
		return model.BusinessContext{}, fmt.Errorf("failed to load business context: %w", err)
	}

	if err := json.Unmarshal([]byte(encoded), &bc.TypicalCategories); err != nil {
		return model.BusinessContext{}, fmt.Errorf("failed to decode typical categories: %w", err)
	}
	return bc, nil
}
