// Package api exposes reconciliation and classification over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

const shutdownTimeout = 10 * time.Second

// Reconciler runs a reconciliation pass for a tenant.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (*reconcile.Report, error)
}

// Classifier classifies invoices and reads back stored results.
type Classifier interface {
	Classify(ctx context.Context, invoiceID string) (*model.ClassificationResult, error)
	Reclassify(ctx context.Context, invoiceID string) (*model.ClassificationResult, error)
	Result(ctx context.Context, invoiceID string) (*model.ClassificationResult, error)
}

// InvoiceFinder resolves a folio fiscal to an invoice.
type InvoiceFinder interface {
	GetInvoiceByUUID(ctx context.Context, uuid string) (*model.Invoice, error)
}

// Server is the HTTP surface over the two orchestrators.
type Server struct {
	reconciler Reconciler
	classifier Classifier
	invoices   InvoiceFinder
	names      func(code string) string
	router     *gin.Engine
}

// NewServer wires the routes. names may be nil.
func NewServer(reconciler Reconciler, classifier Classifier, invoices InvoiceFinder, names func(code string) string) *Server {
	s := &Server{
		reconciler: reconciler,
		classifier: classifier,
		invoices:   invoices,
		names:      names,
		router:     gin.New(),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	{
		api.POST("/tenants/:tenant/reconcile", s.reconcileTenant)
		api.POST("/invoices/:uuid/classify", s.classifyInvoice)
		api.GET("/invoices/:uuid/classification", s.getClassification)
	}
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
