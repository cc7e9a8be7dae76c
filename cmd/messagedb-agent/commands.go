package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zcox/messagedb-agent-sub000/pkg/subscriber"
	"github.com/zcox/messagedb-agent-sub000/pkg/version"
)

func buildStartCmd() *cobra.Command {
	var (
		maxIterations int
		stream        bool
	)
	cmd := &cobra.Command{
		Use:   "start <message>",
		Short: "Start a new agent session with an initial message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), args[0], maxIterations, stream)
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0,
		"Override max iterations from config")
	cmd.Flags().BoolVar(&stream, "stream", false,
		"Print model output and tool activity as it happens")
	return cmd
}

func buildContinueCmd() *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "continue <thread_id>",
		Short: "Continue an existing agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContinue(cmd.Context(), args[0], maxIterations)
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0,
		"Override max iterations from config")
	return cmd
}

func buildMessageCmd() *cobra.Command {
	var noProcess bool
	cmd := &cobra.Command{
		Use:   "message <thread_id> <text>",
		Short: "Append a user message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessage(cmd.Context(), args[0], args[1], noProcess)
		},
	}
	cmd.Flags().BoolVar(&noProcess, "no-process", false,
		"Append the message without running the processing loop")
	return cmd
}

func buildShowCmd() *cobra.Command {
	var (
		format string
		full   bool
	)
	cmd := &cobra.Command{
		Use:   "show <thread_id>",
		Short: "Display events for a specific session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), args[0], format, full)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text or json)")
	cmd.Flags().BoolVar(&full, "full", false,
		"Show full event data, including metadata")
	return cmd
}

func buildListCmd() *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), limit, format)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of sessions to list")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text or json)")
	return cmd
}

func buildSubscribeCmd() *cobra.Command {
	var (
		id       string
		from     int64
		batch    int64
		interval time.Duration
		store    string
	)
	cmd := &cobra.Command{
		Use:   "subscribe <category>",
		Short: "Tail a category, printing conversations as they are written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd.Context(), args[0], subscribeOptions{
				ID:       id,
				From:     from,
				Batch:    batch,
				Interval: interval,
				Store:    store,
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "cli", "Subscriber id keying the stored position")
	cmd.Flags().Int64Var(&from, "from", 0, "Global position to start reading from")
	cmd.Flags().Int64Var(&batch, "batch", subscriber.DefaultBatchSize, "Events fetched per poll")
	cmd.Flags().DurationVar(&interval, "interval", subscriber.DefaultPollInterval, "Idle wait between polls")
	cmd.Flags().StringVar(&store, "store", "memory", "Position store (memory, stream or table)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Full())
		},
	}
}
