package main

import (
	"fmt"
	"io"

	"github.com/fyrsmithlabs/learnloop/internal/graphstore"
	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newStatsCmd() *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Inspect and maintain rolling statistics",
	}
	stats.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Recompute the rolling statistics",
		Long: `Recompute memory count, average overall score and pattern count and store
them as the cached statistics record the dashboard reads.

Examples:
  # Refresh after bulk imports
  learnloop stats refresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return refreshStats(cmd, a.store, a.logger.Underlying(), cmd.OutOrStdout())
		},
	})
	return stats
}

func refreshStats(cmd *cobra.Command, store *graphstore.Store, logger *zap.Logger, out io.Writer) error {
	agg, err := learning.NewStatsAggregator(store, logger)
	if err != nil {
		return err
	}
	stats, err := agg.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("refreshing statistics: %w", err)
	}
	fmt.Fprintf(out, "Memories:        %d\n", stats.TotalMemories)
	fmt.Fprintf(out, "Average overall: %.3f\n", stats.AverageOverall)
	fmt.Fprintf(out, "Patterns:        %d\n", stats.TotalPatterns)
	return nil
}
