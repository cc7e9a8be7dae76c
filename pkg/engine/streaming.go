package engine

import (
	"context"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
)

// Progress is one observable moment of a streaming processing run. It is a
// sealed interface; the variants below are the complete set.
//
// A run emits any number of Agent* and Tool* items, then exactly one
// StateResult on success or one Failure on error, and the channel closes.
type Progress interface {
	progress()
}

// AgentText is a fragment of the model's reply text.
type AgentText struct {
	Text string
}

// AgentToolCall announces that the model began requesting tool call Index.
type AgentToolCall struct {
	ID    string
	Name  string
	Index int
}

// AgentToolInput is a fragment of the JSON arguments of tool call Index.
type AgentToolInput struct {
	Index int
	Input string
}

// AgentDone marks the end of one model call, with its token usage.
type AgentDone struct {
	Usage llm.TokenUsage
}

// ToolStarted marks the start of one tool execution.
type ToolStarted struct {
	Name string
}

// ToolCompleted carries a successful tool execution's result.
type ToolCompleted struct {
	Name   string
	Result any
}

// ToolFailed carries a failed or rejected tool execution's error text.
type ToolFailed struct {
	Name  string
	Error string
}

// StateResult is the final projected session state of a successful run.
type StateResult struct {
	State projections.State
}

// Failure is the terminal item of a failed run.
type Failure struct {
	Err error
}

func (AgentText) progress()      {}
func (AgentToolCall) progress()  {}
func (AgentToolInput) progress() {}
func (AgentDone) progress()      {}
func (ToolStarted) progress()    {}
func (ToolCompleted) progress()  {}
func (ToolFailed) progress()     {}
func (StateResult) progress()    {}
func (Failure) progress()        {}

// ProcessThreadStreaming runs the same loop as ProcessThread but streams
// model deltas and tool activity as they happen. Model calls use the
// provider's streaming API; the engine buffers the deltas and appends one
// canonical LLMResponseReceived per call after the stream's done delta, so
// the log records exactly what a blocking run would have recorded.
//
// The returned channel closes after a terminal StateResult or Failure;
// callers must drain it until then. Cancelling ctx stops the run and a
// Failure reports the interruption; deltas buffered from an interrupted
// model call are discarded without appending.
func (e *Engine) ProcessThreadStreaming(ctx context.Context, threadID, stream string) (<-chan Progress, error) {
	if stream == "" {
		return nil, &ProcessingError{Stream: stream, Reason: "stream name cannot be empty"}
	}

	out := make(chan Progress, 1)
	emit := func(p Progress) {
		select {
		case out <- p:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(out)
		state, err := e.processThread(ctx, threadID, stream, emit)
		if err != nil {
			out <- Failure{Err: err}
			return
		}
		out <- StateResult{State: *state}
	}()
	return out, nil
}
