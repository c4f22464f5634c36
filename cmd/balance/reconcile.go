package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match transactions to invoices",
		Long: `Match unreconciled bank and card transactions to CFDI invoices.

Confident one-to-one matches are applied, installment plans are grouped, and
everything else is listed for review. Running it again only touches what is
still unmatched.`,
		RunE: runReconcile,
	}

	cmd.Flags().StringP("tenant", "t", "", "Tenant to reconcile")
	cmd.Flags().Bool("all", false, "Reconcile every tenant")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	all, _ := cmd.Flags().GetBool("all")

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context(), "Reconciliation")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	tenants, err := tenantsFromFlags(ctx, a.store, tenant, all)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No tenants to reconcile"))
		return nil
	}

	bar := cli.NewProgress(cmd.ErrOrStderr(), len(tenants), "Reconciling")
	reports, runErr := a.reconciler.ReconcileAll(ctx, tenants, func(string) {
		if err := bar.Add(1); err != nil {
			slog.Debug("Failed to update progress bar", "error", err)
		}
	})

	out := cmd.OutOrStdout()
	for _, report := range reports {
		if report == nil {
			continue
		}
		if err := cli.WriteReconcileReport(out, report); err != nil {
			return err
		}
	}

	if interrupts.WasInterrupted() {
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("reconciliation failed: %w", runErr)
	}
	return nil
}
