package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ideaforge",
		Short: "IdeaForge - turn a product idea into a validated project scaffold",
		Long: `IdeaForge drives a coding agent through a two-stage exchange.

Stage 1 asks for implementation tables and a JSON project manifest, which is
validated against a schema and re-requested with targeted feedback until it
passes. Stage 2 asks for the source files and captures the response.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newBatchCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newSplitCommand())
	cmd.AddCommand(newTranscriptCommand())

	return cmd
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	return rootCmd.ExecuteContext(ctx)
}
