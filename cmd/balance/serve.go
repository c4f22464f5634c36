package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/api"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve reconciliation and classification over HTTP.

Routes:
  POST /api/tenants/:tenant/reconcile
  POST /api/invoices/:uuid/classify[?force=true]
  GET  /api/invoices/:uuid/classification
  GET  /health`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	_ = viper.BindPFlag("api.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if viper.GetString("logging.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.NewServer(a.reconciler, a.classifier, a.store, a.classifier.Chart().Name)
	return server.ListenAndServe(ctx, a.cfg.APIAddr)
}
