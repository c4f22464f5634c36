package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/evidence"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func evidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Manage the classification evidence store",
	}
	cmd.AddCommand(evidenceSeedCmd())
	return cmd
}

func evidenceSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Store the chart of accounts in the vector store",
		Long: `Embed every chart code and name into the configured vector store so that
retrieval has shared evidence before any invoice is learned.

Requires evidence.provider: qdrant.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.evidence.Seeder == nil {
				return fmt.Errorf("evidence provider %q does not support seeding", a.cfg.Evidence.Provider)
			}

			chart := a.classifier.Chart()
			levels := []model.ClassificationLevel{model.LevelFamily, model.LevelSubfamily, model.LevelAccount}
			bar := cli.NewProgress(cmd.ErrOrStderr(), len(levels), "Seeding")
			total := 0
			for _, level := range levels {
				codes := chart.Codes(level)
				candidates := make([]evidence.Candidate, 0, len(codes))
				for _, code := range codes {
					candidates = append(candidates, evidence.Candidate{Code: code, Name: chart.Name(code)})
				}
				if err := a.evidence.Seeder.Seed(ctx, level, candidates); err != nil {
					return fmt.Errorf("failed to seed %s codes: %w", level, err)
				}
				total += len(candidates)
				_ = bar.Add(1)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Seeded %d chart codes", total)))
			return nil
		},
	}
}
