// Learnloop records question-answering interactions, grades them and learns
// reusable memories and query patterns from the good ones.
//
// Usage:
//
//	# Run the HTTP API, pipeline coordinator and Temporal worker
//	learnloop serve
//
//	# Recompute the dashboard statistics
//	learnloop stats refresh
//
//	# Rebuild vector indexes from the graph arena
//	learnloop reindex
//
// Configuration comes from ~/.config/learnloop/config.yaml overridden by
// environment variables such as JUDGE_API_KEY or NATS_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "learnloop",
		Short: "Learn from graded question-answering interactions",
		Long: `learnloop grades finished question-answering interactions, stores the
good ones as memories, extracts reusable graph query patterns and serves
similar past answers to prime new questions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/learnloop/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newReindexCmd())
	root.AddCommand(newVersionCmd())
	for _, extra := range extraCommands {
		root.AddCommand(extra())
	}
	return root
}

// extraCommands holds commands that only exist in some builds.
var extraCommands []func() *cobra.Command

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("learnloop by Fyrsmith Labs\n")
			cmd.Printf("Version:    %s\n", version)
			cmd.Printf("Commit:     %s\n", gitCommit)
			cmd.Printf("Build Date: %s\n", buildDate)
		},
	}
}
