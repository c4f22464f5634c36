package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/evidence"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger(t, "acme").
		WithTransaction("t1", "2025-01-29", "-1850.00", "SPEI PAPELERIA LA ESTRELLA").
		WithInvoice(testutil.Inv("i1", "2025-01-29", "1850.00").
			Counterpart("PLE010101AB1", "Papelería La Estrella SA de CV").
			Usage("G03").
			Line("Papeleria y toner para oficina", "1850.00")).
		WithInvoice(testutil.Inv("i2", "2025-03-01", "28500.00").
			Usage("G03").
			Counterpart("DME980101AA1", "Dell Mexico").
			Line("Laptop Dell Latitude 5440", "28500.00")))

	reconciler, err := reconcile.NewEngine(db.Storage, reconcile.DefaultConfig())
	require.NoError(t, err)
	clock := testutil.Date("2025-02-01")
	reconciler.SetClock(func() time.Time { return clock })

	classifier, err := classify.NewEngine(db.Storage, db.Storage, evidence.None{}, classify.DefaultConfig())
	require.NoError(t, err)

	return NewServer(reconciler, classifier, db.Storage, classifier.Chart().Name), db
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	w := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_ReconcileTenant(t *testing.T) {
	s, db := newTestServer(t)

	w := serve(s, http.MethodPost, "/api/tenants/acme/reconcile")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.TenantID)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "t1", resp.Applied[0].TransactionID)
	assert.Equal(t, "i1", resp.Applied[0].InvoiceID)
	assert.Equal(t, "exact", resp.Applied[0].Method)
	assert.Equal(t, "1850.00", resp.AppliedAmount)
	assert.Contains(t, resp.PendingInvoices, "i2")
	assert.Empty(t, resp.Failures)
	assert.Empty(t, resp.OpenGroups)

	records, err := db.Storage.GetActiveRecords(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// A second pass finds nothing new to apply.
	w = serve(s, http.MethodPost, "/api/tenants/acme/reconcile")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Applied)
}

func TestServer_ClassifyInvoice(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodGet, "/api/invoices/uuid-i2/classification")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, http.MethodPost, "/api/invoices/UUID-I2/classify")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ClassificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "i2", resp.InvoiceID)
	assert.Equal(t, "uuid-i2", resp.UUID)
	assert.Equal(t, "15", resp.Family.Code)
	require.NotNil(t, resp.Account)
	assert.Equal(t, "156.01", resp.Account.Code)
	assert.Equal(t, "Equipo de computo", resp.Account.Name)
	assert.True(t, resp.Override)
	assert.Contains(t, resp.OverrideReason, "G03")

	w = serve(s, http.MethodGet, "/api/invoices/uuid-i2/classification")
	require.Equal(t, http.StatusOK, w.Code)
	var stored ClassificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, resp.Account.Code, stored.Account.Code)

	w = serve(s, http.MethodPost, "/api/invoices/uuid-i2/classify?force=true")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_UnknownInvoice(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(s, http.MethodPost, "/api/invoices/missing/classify")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "not found")
}

type failingReconciler struct{ err error }

func (f failingReconciler) Reconcile(context.Context, string) (*reconcile.Report, error) {
	return nil, f.err
}

func TestServer_ReconcileErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invariant", fmt.Errorf("apply: %w", common.ErrInvariantViolation), http.StatusConflict},
		{"empty tenant", fmt.Errorf("%w: tenantID", storage.ErrEmptyString), http.StatusBadRequest},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(failingReconciler{err: tt.err}, nil, nil, nil)
			w := serve(s, http.MethodPost, "/api/tenants/acme/reconcile")
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

type reportReconciler struct{ report *reconcile.Report }

func (r reportReconciler) Reconcile(context.Context, string) (*reconcile.Report, error) {
	return r.report, nil
}

func TestServer_ReconcileReportsFailuresAndOpenGroups(t *testing.T) {
	report := &reconcile.Report{
		TenantID: "acme",
		Failures: []reconcile.Failure{
			{TransactionID: "t1", InvoiceID: "i1", Err: common.NewInvariantError("transaction t1", "already matched")},
			{InvoiceID: "i2", GroupID: "g1", Err: errors.New("group rejected")},
		},
		OpenGroups: []model.InstallmentGroup{{
			ID:             "g2",
			InvoiceID:      "i3",
			Status:         model.GroupOpen,
			InvoiceTotal:   decimal.RequireFromString("48000"),
			MatchedTotal:   decimal.RequireFromString("24000"),
			TransactionIDs: []string{"p1", "p2"},
		}},
		Stats: reconcile.Stats{AppliedAmount: decimal.Zero},
	}

	w := serve(NewServer(reportReconciler{report: report}, nil, nil, nil), http.MethodPost, "/api/tenants/acme/reconcile")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ReconcileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Failures, 2)
	assert.Equal(t, "t1", resp.Failures[0].TransactionID)
	assert.Equal(t, "i1", resp.Failures[0].InvoiceID)
	assert.Contains(t, resp.Failures[0].Error, "already matched")
	assert.Equal(t, "g1", resp.Failures[1].GroupID)
	assert.Equal(t, "group rejected", resp.Failures[1].Error)

	require.Len(t, resp.OpenGroups, 1)
	assert.Equal(t, "g2", resp.OpenGroups[0].ID)
	assert.Equal(t, "open", resp.OpenGroups[0].Status)
	assert.Equal(t, "24000.00", resp.OpenGroups[0].MatchedTotal)
	assert.Equal(t, []string{"p1", "p2"}, resp.OpenGroups[0].Transactions)
}

func TestStatusFromErr(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFromErr(fmt.Errorf("x: %w", common.ErrNotFound)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFromErr(common.ErrEvidenceUnavailable))
}

func TestNewClassificationResponse_OmitsUnrunPhases(t *testing.T) {
	resp := newClassificationResponse(
		&model.Invoice{UUID: "U1"},
		&model.ClassificationResult{InvoiceID: "i1", FamilyCode: "60", FamilyConfidence: 0.5},
		nil)
	assert.Nil(t, resp.Subfamily)
	assert.Nil(t, resp.Account)
	assert.Empty(t, resp.Family.Name)
}
