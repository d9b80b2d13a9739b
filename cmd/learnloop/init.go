//go:build cgo

package main

import (
	"fmt"

	"github.com/fyrsmithlabs/learnloop/internal/embeddings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	extraCommands = append(extraCommands, newInitCmd)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Download the ONNX runtime for local embeddings",
		Long: `Download the ONNX runtime library FastEmbed needs into
~/.config/learnloop/lib/. When ONNX_PATH is set that library is used instead.

Examples:
  learnloop init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path := embeddings.ONNXLibraryPath(); path != "" {
				cmd.Printf("ONNX runtime already installed at: %s\n", path)
				return nil
			}
			cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
			path, err := embeddings.EnsureONNXRuntime(cmd.Context(), zap.NewNop())
			if err != nil {
				return fmt.Errorf("failed to install ONNX runtime: %w", err)
			}
			cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
			return nil
		},
	}
}
