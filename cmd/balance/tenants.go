package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

func tenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
	}
	cmd.AddCommand(tenantsListCmd())
	cmd.AddCommand(tenantsSetContextCmd())
	return cmd
}

func tenantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants with imported records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withStorage(ctx, func(store service.Storage) error {
				tenants, err := store.ListTenants(ctx)
				if err != nil {
					return fmt.Errorf("failed to list tenants: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(tenants) == 0 {
					fmt.Fprintln(out, cli.InfoStyle.Render("No tenants found. Use 'balance import' to add records."))
					return nil
				}
				fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Tenants (%d)", len(tenants))))
				for _, t := range tenants {
					fmt.Fprintln(out, t)
				}
				return nil
			})
		},
	}
}

func tenantsSetContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-context <tenant>",
		Short: "Describe what a tenant does",
		Long: `Record the industry and typical chart codes of a tenant. Classification
leans toward these when invoice content is ambiguous.

Example:
  balance tenants set-context acme --industry software --categories 156,603.02`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			industry, _ := cmd.Flags().GetString("industry")
			categories, _ := cmd.Flags().GetStringSlice("categories")
			ctx := cmd.Context()

			bc := model.BusinessContext{
				TenantID:          args[0],
				Industry:          strings.ToLower(strings.TrimSpace(industry)),
				TypicalCategories: categories,
			}
			return withStorage(ctx, func(store service.Storage) error {
				if err := store.SaveContext(ctx, bc); err != nil {
					return fmt.Errorf("failed to save business context: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Saved business context for "+args[0]))
				return nil
			})
		},
	}
	cmd.Flags().String("industry", "", "Industry, e.g. software, transporte, restaurante")
	cmd.Flags().StringSlice("categories", nil, "Typical chart codes at any level")
	return cmd
}
