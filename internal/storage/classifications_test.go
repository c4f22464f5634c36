package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestSQLiteStorage_SaveClassification(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, nil, []model.Invoice{testInvoice("acme", "i1", "25000.00", testDay)})

	first := &model.ClassificationResult{
		InvoiceID:        "i1",
		TenantID:         "acme",
		FamilyCode:       "60",
		DeclaredUsage:    "G03",
		FamilyConfidence: 0.5,
		LowConfidence:    true,
	}
	require.NoError(t, store.SaveClassification(ctx, first))
	assert.False(t, first.ClassifiedAt.IsZero())

	second := &model.ClassificationResult{
		InvoiceID:           "i1",
		TenantID:            "acme",
		FamilyCode:          "15",
		SubfamilyCode:       "156",
		AccountCode:         "156.01",
		DeclaredUsage:       "G03",
		FamilyConfidence:    0.92,
		SubfamilyConfidence: 0.88,
		AccountConfidence:   0.81,
		Override:            true,
		OverrideReason:      "declared G03 implies 60 but content indicates 15",
		FallbackPhases:      []model.ClassificationLevel{model.LevelAccount},
		ClassifiedAt:        time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, store.SaveClassification(ctx, second))

	current, err := store.GetClassification(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "15", current.FamilyCode)
	assert.Equal(t, "156.01", current.AccountCode)
	assert.True(t, current.Override)
	assert.Equal(t, second.OverrideReason, current.OverrideReason)
	assert.Equal(t, []model.ClassificationLevel{model.LevelAccount}, current.FallbackPhases)
	assert.InDelta(t, 0.81, current.AccountConfidence, 1e-9)

	history, err := store.GetClassificationHistory(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "60", history[0].FamilyCode)
	assert.True(t, history[0].LowConfidence)
	assert.Nil(t, history[0].FallbackPhases)
	assert.Equal(t, "15", history[1].FamilyCode)
}

func TestSQLiteStorage_SaveClassificationErrors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, nil, []model.Invoice{testInvoice("acme", "i1", "100.00", testDay)})

	err := store.SaveClassification(ctx, &model.ClassificationResult{InvoiceID: "nope", TenantID: "acme", FamilyCode: "60"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = store.SaveClassification(ctx, &model.ClassificationResult{InvoiceID: "i1", TenantID: "globex", FamilyCode: "60"})
	assert.ErrorIs(t, err, common.ErrInvariantViolation)

	_, err = store.GetClassification(ctx, "i1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
