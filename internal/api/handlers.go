package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

func (s *Server) reconcileTenant(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant"))
	if tenantID == "" {
		respondError(c, http.StatusBadRequest, "tenant is required")
		return
	}

	report, err := s.reconciler.Reconcile(c.Request.Context(), tenantID)
	if err != nil {
		common.LogError(err, "Reconciliation request failed", common.Fields{"tenant": tenantID})
		respondError(c, statusFromErr(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, newReconcileResponse(report))
}

func (s *Server) classifyInvoice(c *gin.Context) {
	inv, ok := s.lookupInvoice(c)
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(c.Query("force"))
	classifyFn := s.classifier.Classify
	if force {
		classifyFn = s.classifier.Reclassify
	}

	result, err := classifyFn(c.Request.Context(), inv.ID)
	if err != nil {
		common.LogError(err, "Classification request failed", common.Fields{"uuid": inv.UUID, "force": force})
		respondError(c, statusFromErr(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, newClassificationResponse(inv, result, s.names))
}

func (s *Server) getClassification(c *gin.Context) {
	inv, ok := s.lookupInvoice(c)
	if !ok {
		return
	}

	result, err := s.classifier.Result(c.Request.Context(), inv.ID)
	if err != nil {
		respondError(c, statusFromErr(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, newClassificationResponse(inv, result, s.names))
}

func (s *Server) lookupInvoice(c *gin.Context) (*model.Invoice, bool) {
	uuid := strings.TrimSpace(c.Param("uuid"))
	inv, err := s.invoices.GetInvoiceByUUID(c.Request.Context(), uuid)
	if err != nil {
		respondError(c, statusFromErr(err), err.Error())
		return nil, false
	}
	return inv, true
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvariantViolation):
		return http.StatusConflict
	case errors.Is(err, storage.ErrEmptyString), errors.Is(err, common.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrEvidenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
