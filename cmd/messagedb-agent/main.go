// Command messagedb-agent is the CLI for the event-sourced agent system:
// start and continue sessions, append user messages, inspect session
// streams, list recent sessions, and tail a category as it is written.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Global flags shared by every command.
var (
	flagConfig   string
	flagCategory string
	flagVersion  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "messagedb-agent",
		Short: "Event-sourced agent system over Message DB",
		Long: `messagedb-agent drives agent sessions stored as event streams in a
Message DB message store. Every session is a stream of immutable events;
commands append to streams and project state from them, never mutating
what was written.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Path to configuration file (.env format)")
	rootCmd.PersistentFlags().StringVar(&flagCategory, "category", "agent",
		"Stream category")
	rootCmd.PersistentFlags().StringVar(&flagVersion, "version", "v0",
		"Stream schema version")

	rootCmd.AddCommand(
		buildStartCmd(),
		buildContinueCmd(),
		buildMessageCmd(),
		buildShowCmd(),
		buildListCmd(),
		buildSubscribeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
