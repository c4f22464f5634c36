package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify invoices into the chart of accounts",
		Long: `Classify invoices into family, subfamily and account.

Each level is chosen from invoice content and retrieved evidence. The declared
UsoCFDI is used as a prior and overridden when content clearly disagrees.

Examples:
  # Classify everything not yet classified for one tenant
  balance classify --tenant acme

  # Re-run one invoice by its folio fiscal
  balance classify --invoice 6F1C2A3B-... --force`,
		RunE: runClassify,
	}

	cmd.Flags().StringP("tenant", "t", "", "Tenant whose invoices to classify")
	cmd.Flags().Bool("all", false, "Classify invoices of every tenant")
	cmd.Flags().StringP("invoice", "i", "", "Classify a single invoice by UUID")
	cmd.Flags().BoolP("force", "f", false, "Reclassify invoices that already have a result")

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	all, _ := cmd.Flags().GetBool("all")
	invoiceUUID, _ := cmd.Flags().GetString("invoice")
	force, _ := cmd.Flags().GetBool("force")

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context(), "Classification")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	names := a.classifier.Chart().Name

	if invoiceUUID != "" {
		inv, err := a.store.GetInvoiceByUUID(ctx, invoiceUUID)
		if err != nil {
			return fmt.Errorf("failed to find invoice: %w", err)
		}
		classifyFn := a.classifier.Classify
		if force {
			classifyFn = a.classifier.Reclassify
		}
		result, err := classifyFn(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to classify invoice %s: %w", invoiceUUID, err)
		}
		return cli.WriteClassification(out, result, names)
	}

	tenants, err := tenantsFromFlags(ctx, a.store, tenant, all)
	if err != nil {
		return err
	}

	bar := cli.NewProgress(cmd.ErrOrStderr(), len(tenants), "Classifying")
	var reports []*classify.Report
	for _, t := range tenants {
		report, err := a.classifier.ClassifyTenant(ctx, t, force)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("failed to classify tenant %s: %w", t, err)
		}
		reports = append(reports, report)
		if err := bar.Add(1); err != nil {
			slog.Debug("Failed to update progress bar", "error", err)
		}
	}

	for _, report := range reports {
		if err := cli.WriteClassifyReport(out, report, names); err != nil {
			return err
		}
	}
	return nil
}
