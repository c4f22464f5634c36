package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/ingest"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/ofx"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import statements and invoices",
		Long:  `Import bank or card statements (OFX/QFX) and normalized CFDI invoices (JSON) for a tenant.`,
	}

	cmd.PersistentFlags().StringP("tenant", "t", "", "Tenant the records belong to")
	_ = cmd.MarkPersistentFlagRequired("tenant")

	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importInvoicesCmd())

	return cmd
}

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import transactions from OFX or QFX files exported from your bank.

Examples:
  # Import one statement
  balance import ofx --tenant acme ~/Downloads/bbva_enero.ofx

  # Import a folder of statements
  balance import ofx --tenant acme ~/Downloads/estados/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	ctx := cmd.Context()

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var transactions []model.Transaction

	for _, path := range files {
		parsed, err := parseStatement(ctx, parser, path, tenant)
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			continue
		}

		added := 0
		for _, txn := range parsed {
			if !seen[txn.Hash] {
				seen[txn.Hash] = true
				transactions = append(transactions, txn)
				added++
			}
		}
		slog.Info("Processed file",
			"file", filepath.Base(path),
			"transactions_found", len(parsed),
			"added", added,
			"duplicates", len(parsed)-added)
	}

	out := cmd.OutOrStdout()
	if len(transactions) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No transactions found in any file"))
		return nil
	}
	if dryRun {
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions would be imported", len(transactions))))
		return nil
	}

	return withStorage(ctx, func(store service.Storage) error {
		if err := store.SaveTransactions(ctx, transactions); err != nil {
			return fmt.Errorf("failed to save transactions: %w", err)
		}
		common.LogInfo("Imported transactions", common.Fields{"tenant": tenant, "count": len(transactions), "files": len(files)})
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d transactions for %s", len(transactions), tenant)))
		return nil
	})
}

func parseStatement(ctx context.Context, parser *ofx.Parser, path, tenant string) ([]model.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("Failed to close file", "file", path, "error", closeErr)
		}
	}()
	return parser.ParseFile(ctx, f, tenant)
}

func importInvoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoices [files...]",
		Short: "Import normalized CFDI invoices from JSON",
		Long: `Import invoices already extracted from CFDI XML into the normalized JSON format.

Each file holds either an array of invoices or an object with an "invoices" array.
Re-importing an invoice updates its status and concepts, so cancellations
are picked up.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportInvoices,
	}
}

func runImportInvoices(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	ctx := cmd.Context()

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	var invoices []model.Invoice
	for _, path := range files {
		decoded, err := decodeInvoiceFile(path, tenant)
		if err != nil {
			return err
		}
		invoices = append(invoices, decoded...)
	}

	out := cmd.OutOrStdout()
	if len(invoices) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No invoices found in any file"))
		return nil
	}

	return withStorage(ctx, func(store service.Storage) error {
		if err := store.SaveInvoices(ctx, invoices); err != nil {
			return fmt.Errorf("failed to save invoices: %w", err)
		}
		common.LogInfo("Imported invoices", common.Fields{"tenant": tenant, "count": len(invoices), "files": len(files)})
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d invoices for %s", len(invoices), tenant)))
		return nil
	})
}

func decodeInvoiceFile(path, tenant string) ([]model.Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	invoices, err := ingest.DecodeInvoices(f, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return invoices, nil
}

// expandFiles expands glob patterns, keeping literal paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

// withStorage runs fn against an initialized store and closes it afterwards.
func withStorage(ctx context.Context, fn func(store service.Storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)
	return fn(store)
}
