package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
)

// llmStep projects the conversation, calls the model (with retries) and
// appends the outcome. It returns ok=false when the call failed after all
// retries and an LLMCallFailed event was appended; the error return is
// reserved for critical failures (store writes, cancellation) that must
// abort processing.
func (e *Engine) llmStep(ctx context.Context, stream string, evts []events.Event, progress func(Progress)) (bool, error) {
	log := slog.With("stream", stream)

	messages := projections.Conversation(evts)
	declarations := e.registry.Declarations()

	started, err := events.NewLLMCallStarted(len(messages), len(declarations))
	if err != nil {
		return false, err
	}
	if _, err := e.store.Append(ctx, stream, started, nil); err != nil {
		return false, fmt.Errorf("writing LLMCallStarted: %w", err)
	}

	prompt := e.opts.SystemPrompt
	if prompt == "" {
		prompt = llm.DefaultSystemPrompt
	}
	opts := []llm.CallOption{llm.WithSystemPrompt(prompt)}
	if len(declarations) > 0 {
		opts = append(opts, llm.WithTools(declarations))
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.opts.RetryDelay); err != nil {
				return false, fmt.Errorf("model call interrupted: %w", err)
			}
		}

		var response *llm.Response
		var callErr error
		if progress == nil {
			response, callErr = e.model.Call(ctx, messages, opts...)
		} else {
			response, callErr = e.callStreaming(ctx, messages, opts, progress)
		}
		if callErr != nil {
			if ctx.Err() != nil {
				// Cancellation is not a model failure; abort without an event.
				return false, fmt.Errorf("model call interrupted: %w", ctx.Err())
			}
			lastErr = callErr
			log.Warn("Model call failed", "attempt", attempt, "error", callErr)
			continue
		}

		payload, err := events.NewLLMResponseReceived(
			response.Text,
			toolCallRefs(response.ToolCalls),
			response.ModelName,
			usageCounts(response.Usage),
		)
		if err != nil {
			return false, fmt.Errorf("building LLMResponseReceived: %w", err)
		}
		metadata := map[string]any{events.MetaRetryCount: attempt}
		if _, err := e.store.Append(ctx, stream, payload, metadata); err != nil {
			return false, fmt.Errorf("writing LLMResponseReceived: %w", err)
		}
		log.Info("Model call succeeded",
			"attempt", attempt,
			"text_length", len(response.Text),
			"tool_calls", len(response.ToolCalls),
			"model", response.ModelName,
		)
		return true, nil
	}

	failed, err := events.NewLLMCallFailed(lastErr.Error(), e.opts.MaxRetries)
	if err != nil {
		return false, fmt.Errorf("building LLMCallFailed: %w", err)
	}
	metadata := map[string]any{events.MetaErrorType: errorType(lastErr)}
	if _, err := e.store.Append(ctx, stream, failed, metadata); err != nil {
		return false, fmt.Errorf("writing LLMCallFailed: %w", err)
	}
	log.Error("Model call failed after all retries", "retries", e.opts.MaxRetries, "error", lastErr)
	return false, nil
}

// callStreaming consumes the model's delta stream, forwarding each fragment
// as progress while buffering everything, and assembles the canonical
// response once the stream finishes. The caller appends exactly one
// LLMResponseReceived from it.
func (e *Engine) callStreaming(ctx context.Context, messages []llm.Message, opts []llm.CallOption, progress func(Progress)) (*llm.Response, error) {
	deltas, err := e.model.CallStream(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}

	type pendingCall struct {
		id, name string
		input    []byte
	}
	var (
		text    []byte
		calls   = map[int]*pendingCall{}
		usage   llm.TokenUsage
		done    bool
		callErr error
	)

	for delta := range deltas {
		switch d := delta.(type) {
		case *llm.TextDelta:
			text = append(text, d.Text...)
			progress(AgentText{Text: d.Text})
		case *llm.ToolCallDelta:
			calls[d.Index] = &pendingCall{id: d.ID, name: d.Name}
			progress(AgentToolCall{ID: d.ID, Name: d.Name, Index: d.Index})
		case *llm.ToolInputDelta:
			if pc, ok := calls[d.Index]; ok {
				pc.input = append(pc.input, d.InputDelta...)
			}
			progress(AgentToolInput{Index: d.Index, Input: d.InputDelta})
		case *llm.DoneDelta:
			usage = d.Usage
			done = true
			progress(AgentDone{Usage: d.Usage})
		case *llm.ErrorDelta:
			callErr = d.Err
		}
	}
	if callErr != nil {
		return nil, callErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("model stream ended without a done delta")
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	toolCalls := make([]llm.ToolCall, 0, len(calls))
	for _, i := range indexes {
		pc := calls[i]
		args := map[string]any{}
		if len(pc.input) > 0 {
			if err := json.Unmarshal(pc.input, &args); err != nil {
				return nil, fmt.Errorf("tool call %d (%s) arguments are not valid JSON: %w", i, pc.name, err)
			}
		}
		tc, err := llm.NewToolCall(pc.id, pc.name, args)
		if err != nil {
			return nil, fmt.Errorf("tool call %d: %w", i, err)
		}
		toolCalls = append(toolCalls, tc)
	}

	return llm.NewResponse(string(text), toolCalls, e.model.ModelName(), usage)
}

// sleep waits for d or until the context is cancelled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toolCallRefs(calls []llm.ToolCall) []events.ToolCallRef {
	if len(calls) == 0 {
		return nil
	}
	refs := make([]events.ToolCallRef, len(calls))
	for i, c := range calls {
		refs[i] = events.ToolCallRef{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return refs
}

func usageCounts(u llm.TokenUsage) map[string]int {
	return map[string]int{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.TotalTokens,
	}
}

// errorType names a model error for failure-event metadata.
func errorType(err error) string {
	var transport *llm.TransportError
	var response *llm.ResponseError
	switch {
	case errors.As(err, &transport):
		return "TransportError"
	case errors.As(err, &response):
		return "ResponseError"
	default:
		return "Error"
	}
}
