package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

func unmatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <transaction-id>",
		Short: "Undo an exact match",
		Long: `Deactivate the exact match of a transaction so both sides are reconciled again.

Installment matches cannot be undone one payment at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStorage(ctx, func(store service.Storage) error {
				if err := store.Unmatch(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to unmatch %s: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Unmatched "+args[0]))
				return nil
			})
		},
	}
}
