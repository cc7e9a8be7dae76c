package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/config"
	"github.com/zcox/messagedb-agent-sub000/pkg/engine"
	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	_ "github.com/zcox/messagedb-agent-sub000/pkg/llm/anthropic"
	_ "github.com/zcox/messagedb-agent-sub000/pkg/llm/openai"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
	"github.com/zcox/messagedb-agent-sub000/pkg/subscriber"
	"github.com/zcox/messagedb-agent-sub000/pkg/tools"
)

// runtime bundles the dependencies command handlers share: configuration,
// the message store client, and (for processing commands) a model client.
type runtime struct {
	cfg   config.Config
	store *messagedb.Client
	model llm.Client
}

// newRuntime loads configuration, installs logging, and connects to the
// message store.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)

	store, err := messagedb.NewClient(ctx, cfg.MessageDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to message store: %w", err)
	}
	return &runtime{cfg: cfg, store: store}, nil
}

func (r *runtime) Close() {
	if r.model != nil {
		_ = r.model.Close()
	}
	r.store.Close()
}

// agentEngine builds a processing engine over the builtin tool registry.
// maxIterations > 0 overrides the configured budget.
func (r *runtime) agentEngine(maxIterations int) (*engine.Engine, error) {
	model, err := llm.Factory(r.cfg.AgentModelConfig())
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	r.model = model

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	opts := r.cfg.EngineOptions()
	if maxIterations > 0 {
		opts.MaxIterations = maxIterations
	}
	return engine.New(r.store, model, reg, opts), nil
}

// effectiveIterations is the budget a run will actually use.
func (r *runtime) effectiveIterations(override int) int {
	if override > 0 {
		return override
	}
	return r.cfg.Processing.MaxIterations
}

func (r *runtime) streamName(threadID string) (string, error) {
	return messagedb.BuildStreamName(flagCategory, flagVersion, threadID)
}

// process runs the loop, live-printing progress when streaming is requested.
func (r *runtime) process(ctx context.Context, eng *engine.Engine, threadID, streamName string, streaming bool) (*projections.State, error) {
	if !streaming {
		return eng.ProcessThread(ctx, threadID, streamName)
	}
	ch, err := eng.ProcessThreadStreaming(ctx, threadID, streamName)
	if err != nil {
		return nil, err
	}
	return consumeProgress(os.Stdout, ch)
}

func runStart(ctx context.Context, message string, maxIterations int, stream bool) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	eng, err := r.agentEngine(maxIterations)
	if err != nil {
		return err
	}

	fmt.Printf("Starting new session with message: %s\n", message)
	threadID, err := eng.StartSession(ctx, flagCategory, flagVersion, message)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	fmt.Printf("Session started with thread ID: %s\n", threadID)

	streamName, err := r.streamName(threadID)
	if err != nil {
		return err
	}
	fmt.Printf("Processing session (max %d iterations)...\n", r.effectiveIterations(maxIterations))

	state, err := r.process(ctx, eng, threadID, streamName, stream)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, threadID, state)
	return nil
}

func runContinue(ctx context.Context, threadID string, maxIterations int) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	streamName, err := r.streamName(threadID)
	if err != nil {
		return err
	}
	existing, err := r.store.ReadAllStream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	if len(existing) == 0 {
		return fmt.Errorf("no session found with thread ID: %s", threadID)
	}

	eng, err := r.agentEngine(maxIterations)
	if err != nil {
		return err
	}

	fmt.Printf("Continuing session: %s\n", threadID)
	fmt.Printf("Processing session (max %d iterations)...\n", r.effectiveIterations(maxIterations))

	state, err := eng.ProcessThread(ctx, threadID, streamName)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, threadID, state)
	return nil
}

func runMessage(ctx context.Context, threadID, text string, noProcess bool) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	streamName, err := r.streamName(threadID)
	if err != nil {
		return err
	}
	existing, err := r.store.ReadAllStream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	if len(existing) == 0 {
		return fmt.Errorf("no session found with thread ID: %s", threadID)
	}

	added, err := events.NewUserMessageAdded(text, time.Now())
	if err != nil {
		return err
	}
	if _, err := r.store.Append(ctx, streamName, added, nil); err != nil {
		return fmt.Errorf("writing user message: %w", err)
	}
	fmt.Printf("Added message to session: %s\n", threadID)

	if noProcess {
		return nil
	}

	eng, err := r.agentEngine(0)
	if err != nil {
		return err
	}
	fmt.Printf("Processing session (max %d iterations)...\n", r.effectiveIterations(0))

	state, err := eng.ProcessThread(ctx, threadID, streamName)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, threadID, state)
	return nil
}

func runShow(ctx context.Context, threadID, format string, full bool) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	streamName, err := r.streamName(threadID)
	if err != nil {
		return err
	}
	evs, err := r.store.ReadAllStream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	if len(evs) == 0 {
		return fmt.Errorf("no events found for thread ID: %s", threadID)
	}

	switch format {
	case "json":
		return showEventsJSON(os.Stdout, evs, full)
	case "text":
		return showEventsText(os.Stdout, threadID, streamName, evs, full)
	default:
		return fmt.Errorf("unknown format %q (expected text or json)", format)
	}
}

// listQuery finds the most recently active streams under one
// category:version prefix.
const listQuery = `
	SELECT stream_name, MAX(time) AS last_activity
	FROM message_store.messages
	WHERE stream_name LIKE $1
	GROUP BY stream_name
	ORDER BY last_activity DESC
	LIMIT $2`

func runList(ctx context.Context, limit int, format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q (expected text or json)", format)
	}

	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	prefix := flagCategory + ":" + flagVersion
	rows, err := r.store.Pool().Query(ctx, listQuery, prefix+"-%", limit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var listed []sessionRow
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.Stream, &row.LastActivity); err != nil {
			return fmt.Errorf("scanning session row: %w", err)
		}
		listed = append(listed, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	rows.Close()

	if len(listed) == 0 {
		fmt.Printf("No sessions found for category: %s\n", prefix)
		return nil
	}

	for i := range listed {
		evs, err := r.store.ReadAllStream(ctx, listed[i].Stream)
		if err != nil {
			return fmt.Errorf("reading stream %s: %w", listed[i].Stream, err)
		}
		state, err := projections.SessionState(evs)
		if err != nil {
			return fmt.Errorf("projecting session state for %s: %w", listed[i].Stream, err)
		}
		listed[i].State = state
	}

	if format == "json" {
		return listSessionsJSON(os.Stdout, listed)
	}
	listSessionsText(os.Stdout, prefix, listed)
	return nil
}

// subscribeOptions carries the subscribe command's flags.
type subscribeOptions struct {
	ID       string
	From     int64
	Batch    int64
	Interval time.Duration
	Store    string
}

func runSubscribe(ctx context.Context, category string, opts subscribeOptions) error {
	r, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	positions, err := r.positionStore(opts.Store)
	if err != nil {
		return err
	}
	if opts.From > 0 {
		if err := positions.Update(ctx, opts.ID, opts.From); err != nil {
			return fmt.Errorf("seeding start position: %w", err)
		}
	}

	printer := subscriber.NewConversationPrinter()
	sub, err := subscriber.New(r.store, subscriber.Config{
		Category:     category,
		SubscriberID: opts.ID,
		Handler:      printer.Handler(),
		BatchSize:    opts.Batch,
		PollInterval: opts.Interval,
		Positions:    positions,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Subscribed to category %q as %q (Ctrl-C to stop)\n", category, opts.ID)
	sub.Start(ctx)
	<-ctx.Done()
	sub.Stop()
	fmt.Println("\nSubscription stopped")
	return nil
}

func (r *runtime) positionStore(kind string) (subscriber.PositionStore, error) {
	switch kind {
	case "memory":
		return subscriber.NewMemoryPositionStore(), nil
	case "stream":
		return subscriber.NewStreamPositionStore(r.store), nil
	case "table":
		return subscriber.NewTablePositionStore(r.store.Pool()), nil
	default:
		return nil, fmt.Errorf("unknown position store %q (expected memory, stream or table)", kind)
	}
}
