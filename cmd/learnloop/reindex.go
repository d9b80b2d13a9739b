package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild vector indexes from the graph arena",
		Long: `Re-upsert every stored memory embedding into the configured vector backend.
Run this after switching vector.provider (for example chromem to qdrant) or
after losing the vector directory.

Examples:
  # Populate a fresh Qdrant collection
  VECTOR_PROVIDER=qdrant learnloop reindex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Reindex(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindexing: %w", err)
			}
			a.logger.Info(cmd.Context(), "reindex complete",
				zap.String("vector_provider", a.cfg.Vector.Provider), zap.Int("nodes", n))
			cmd.Printf("Reindexed %d nodes into %s\n", n, a.cfg.Vector.Provider)
			return nil
		},
	}
}
