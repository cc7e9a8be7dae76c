// Package engine runs agent sessions over the event log: read the stream,
// project the next step, execute it, append the outcome, repeat until the
// session terminates or the iteration budget runs out.
//
// The loop is deliberately stateless between iterations. Everything it knows
// comes from the stream, so a crashed loop resumes by re-reading, and the
// same stream can be driven from another process without coordination.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
	"github.com/zcox/messagedb-agent-sub000/pkg/tools"
)

// Store is the slice of the event log the engine needs. *messagedb.Client
// satisfies it; tests substitute an in-memory log.
type Store interface {
	Write(ctx context.Context, msg messagedb.WriteMessage) (int64, error)
	Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error)
	ReadStream(ctx context.Context, stream string, opts ...messagedb.ReadOption) ([]events.Event, error)
	ReadAllStream(ctx context.Context, stream string) ([]events.Event, error)
}

// Default option values.
const (
	DefaultMaxIterations        = 100
	DefaultMaxRetries           = 2
	DefaultRetryDelay           = time.Second
	DefaultApprovalTimeout      = 5 * time.Minute
	DefaultApprovalPollInterval = 500 * time.Millisecond
)

// Options tunes a processing loop. Use DefaultOptions and override fields;
// the engine takes the values as given apart from clamping MaxIterations to
// at least 1.
type Options struct {
	// MaxIterations bounds the loop. Exhausting it without a termination
	// verdict fails processing with *MaxIterationsExceededError.
	MaxIterations int
	// MaxRetries is how many times a failed model call is retried before an
	// LLMCallFailed event is appended. Zero disables retries.
	MaxRetries int
	// RetryDelay is the pause between model call attempts.
	RetryDelay time.Duration
	// SystemPrompt overrides llm.DefaultSystemPrompt when non-empty.
	SystemPrompt string
	// AutoApproveTools approves gated tools immediately, recording the
	// approval as made by "auto".
	AutoApproveTools bool
	// ApprovalTimeout bounds the wait for a manual approval event before the
	// call is rejected by the system.
	ApprovalTimeout time.Duration
	// ApprovalPollInterval is the stream re-read cadence while waiting for
	// an approval decision.
	ApprovalPollInterval time.Duration
}

// DefaultOptions returns the documented defaults: 100 iterations, 2 retries
// one second apart, and a five minute approval window polled every 500ms.
func DefaultOptions() Options {
	return Options{
		MaxIterations:        DefaultMaxIterations,
		MaxRetries:           DefaultMaxRetries,
		RetryDelay:           DefaultRetryDelay,
		ApprovalTimeout:      DefaultApprovalTimeout,
		ApprovalPollInterval: DefaultApprovalPollInterval,
	}
}

// Engine drives agent sessions. One engine serves one tool registry and one
// model client; it may process any number of threads sequentially.
type Engine struct {
	store    Store
	model    llm.Client
	registry *tools.Registry
	executor *tools.Executor
	opts     Options
}

// New builds an engine. MaxIterations below 1 falls back to the default so a
// zero Options cannot produce a loop that never runs.
func New(store Store, model llm.Client, registry *tools.Registry, opts Options) *Engine {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Engine{
		store:    store,
		model:    model,
		registry: registry,
		executor: tools.NewExecutor(registry),
		opts:     opts,
	}
}

// StartSession creates a fresh session stream: a v4 UUID thread id, a
// SessionStarted event appended with expected version -1 (so an id collision
// fails instead of appending to an existing stream), and the initial
// UserMessageAdded. It returns the new thread id.
func (e *Engine) StartSession(ctx context.Context, category, version, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("initial message cannot be blank")
	}

	threadID := uuid.NewString()
	stream, err := messagedb.BuildStreamName(category, version, threadID)
	if err != nil {
		return "", fmt.Errorf("building stream name: %w", err)
	}
	log := slog.With("thread_id", threadID, "stream", stream)

	started, err := events.NewSessionStarted(threadID)
	if err != nil {
		return "", err
	}
	if _, err := e.store.Write(ctx, messagedb.WriteMessage{
		Stream:          stream,
		Type:            started.EventType(),
		Data:            started.Data(),
		ExpectedVersion: messagedb.ExpectVersion(messagedb.NoStream),
	}); err != nil {
		return "", fmt.Errorf("writing SessionStarted: %w", err)
	}

	if err := e.AddUserMessage(ctx, stream, message); err != nil {
		return "", err
	}
	log.Info("Session started", "message_length", len(message))
	return threadID, nil
}

// AddUserMessage appends a user turn to the stream.
func (e *Engine) AddUserMessage(ctx context.Context, stream, message string) error {
	added, err := events.NewUserMessageAdded(message, time.Now())
	if err != nil {
		return err
	}
	if _, err := e.store.Append(ctx, stream, added, nil); err != nil {
		return fmt.Errorf("writing UserMessageAdded: %w", err)
	}
	return nil
}

// TerminateSession closes the session with a SessionCompleted event. An
// empty reason records the graceful default, "success".
func (e *Engine) TerminateSession(ctx context.Context, stream, reason string) error {
	if reason == "" {
		reason = "success"
	}
	completed, err := events.NewSessionCompleted(reason)
	if err != nil {
		return err
	}
	if _, err := e.store.Append(ctx, stream, completed, nil); err != nil {
		return fmt.Errorf("writing SessionCompleted: %w", err)
	}
	slog.Info("Session terminated", "stream", stream, "reason", reason)
	return nil
}

// ProcessThread runs the loop for one thread until a termination verdict or
// the iteration budget. On success it re-reads the stream once more and
// returns the final projected session state.
//
// Model and tool failures do not abort the loop; their events are appended
// and the next verdict decides. Only store errors, context cancellation and
// budget exhaustion surface as errors here.
func (e *Engine) ProcessThread(ctx context.Context, threadID, stream string) (*projections.State, error) {
	return e.processThread(ctx, threadID, stream, nil)
}

// processThread is the shared loop body. progress is nil for the blocking
// variant; the streaming variant passes a sink that forwards model and tool
// activity as it happens.
func (e *Engine) processThread(ctx context.Context, threadID, stream string, progress func(Progress)) (*projections.State, error) {
	log := slog.With("thread_id", threadID, "stream", stream)
	log.Info("Starting thread processing", "max_iterations", e.opts.MaxIterations)

	var (
		accumulated  []events.Event
		lastPosition = int64(-1)
		terminated   bool
		iteration    int
	)

	for iteration < e.opts.MaxIterations {
		iteration++
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("processing interrupted: %w", err)
		}

		// Read only what appeared since the previous iteration; projections
		// always run over the accumulated history.
		page, err := e.store.ReadStream(ctx, stream, messagedb.FromPosition(lastPosition+1))
		if err != nil {
			return nil, fmt.Errorf("reading stream %q: %w", stream, err)
		}
		accumulated = append(accumulated, page...)
		if len(page) > 0 {
			lastPosition = page[len(page)-1].Position
		}
		if len(accumulated) == 0 {
			return nil, &ProcessingError{Stream: stream, Reason: "no events found in stream"}
		}

		verdict, err := projections.NextStep(accumulated)
		if err != nil {
			return nil, fmt.Errorf("determining next step: %w", err)
		}
		log.Debug("Determined next step",
			"iteration", iteration,
			"step", string(verdict.Kind),
			"reason", verdict.Reason,
		)

		switch verdict.Kind {
		case projections.Terminate:
			log.Info("Session terminating", "reason", verdict.Reason, "iterations", iteration)
			terminated = true
		case projections.CallModel:
			ok, err := e.llmStep(ctx, stream, accumulated, progress)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Warn("Model step failed after retries")
			}
		case projections.ExecuteTools:
			ok, err := e.toolStep(ctx, stream, verdict.ToolCalls, progress)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Warn("Tool step reported failures")
			}
		default:
			return nil, fmt.Errorf("unexpected step kind %q", verdict.Kind)
		}
		if terminated {
			break
		}
	}

	if !terminated {
		return nil, &MaxIterationsExceededError{ThreadID: threadID, MaxIterations: e.opts.MaxIterations}
	}

	// Full re-read so the final state includes events written by the last
	// step and by anything else appending concurrently.
	all, err := e.store.ReadAllStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("reading final stream state: %w", err)
	}
	state, err := projections.SessionState(all)
	if err != nil {
		return nil, fmt.Errorf("projecting session state: %w", err)
	}
	log.Info("Thread processing complete",
		"status", string(state.Status),
		"iterations", iteration,
		"messages", state.MessageCount,
		"llm_calls", state.LLMCallCount,
		"tool_calls", state.ToolCallCount,
	)
	return &state, nil
}
