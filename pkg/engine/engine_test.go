package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
	"github.com/zcox/messagedb-agent-sub000/pkg/tools"
)

func fastOptions() Options {
	return Options{
		MaxIterations:        20,
		MaxRetries:           0,
		RetryDelay:           0,
		ApprovalTimeout:      50 * time.Millisecond,
		ApprovalPollInterval: time.Millisecond,
	}
}

func emptyRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	return tools.NewRegistry()
}

// registryWith registers a tool whose behaviour the test controls.
func registryWith(t *testing.T, tool tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tool))
	return reg
}

func lookupTool(fn tools.ToolFunc, permission tools.Permission) tools.Tool {
	return tools.Tool{
		Name:        "lookup",
		Description: "looks things up",
		Permission:  permission,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
		},
		Func: fn,
	}
}

func startSession(t *testing.T, e *Engine) (threadID, stream string) {
	t.Helper()
	threadID, err := e.StartSession(context.Background(), "agent", "v0", "hello there")
	require.NoError(t, err)
	stream, err = messagedb.BuildStreamName("agent", "v0", threadID)
	require.NoError(t, err)
	return threadID, stream
}

func TestStartSessionWritesStartedThenUserMessage(t *testing.T) {
	log := newMemLog()
	e := New(log, newScriptedModel(), emptyRegistry(t), fastOptions())

	threadID, stream := startSession(t, e)
	require.NotEmpty(t, threadID)

	assert.Equal(t, []string{events.TypeSessionStarted, events.TypeUserMessageAdded}, log.types(stream))

	started := log.eventsOfType(stream, events.TypeSessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, threadID, started[0].Data["thread_id"])
	assert.EqualValues(t, 0, started[0].Position)

	added := log.eventsOfType(stream, events.TypeUserMessageAdded)
	require.Len(t, added, 1)
	assert.Equal(t, "hello there", added[0].Data["message"])
}

func TestStartSessionRejectsBlankMessage(t *testing.T) {
	e := New(newMemLog(), newScriptedModel(), emptyRegistry(t), fastOptions())

	_, err := e.StartSession(context.Background(), "agent", "v0", "   \n\t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank")
}

func TestTerminateSessionDefaultsReason(t *testing.T) {
	log := newMemLog()
	e := New(log, newScriptedModel(), emptyRegistry(t), fastOptions())
	_, stream := startSession(t, e)

	require.NoError(t, e.TerminateSession(context.Background(), stream, ""))

	completed := log.eventsOfType(stream, events.TypeSessionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "success", completed[0].Data["completion_reason"])
}

func TestTerminateSessionKeepsExplicitReason(t *testing.T) {
	log := newMemLog()
	e := New(log, newScriptedModel(), emptyRegistry(t), fastOptions())
	_, stream := startSession(t, e)

	require.NoError(t, e.TerminateSession(context.Background(), stream, "timeout"))

	completed := log.eventsOfType(stream, events.TypeSessionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "timeout", completed[0].Data["completion_reason"])
}

func TestProcessThreadTextOnlyConversation(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(textTurn("Hello! How can I help?"))
	e := New(log, model, emptyRegistry(t), fastOptions())
	threadID, stream := startSession(t, e)

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMCallStarted,
		events.TypeLLMResponseReceived,
	}, log.types(stream))

	assert.Equal(t, threadID, state.ThreadID)
	assert.Equal(t, projections.StatusActive, state.Status)
	assert.Equal(t, 1, state.MessageCount)
	assert.Equal(t, 1, state.LLMCallCount)
	assert.Equal(t, 0, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)

	responses := log.eventsOfType(stream, events.TypeLLMResponseReceived)
	require.Len(t, responses, 1)
	assert.Equal(t, "Hello! How can I help?", responses[0].Data["response_text"])
	assert.EqualValues(t, 0, responses[0].Metadata[events.MetaRetryCount])
}

func TestProcessThreadToolRoundTrip(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{"city": "SF"}}),
		textTurn("It is sunny in SF."),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"weather": "sunny", "city": args["city"]}, nil
	}, tools.PermissionSafe))
	e := New(log, model, reg, fastOptions())
	threadID, stream := startSession(t, e)

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeSessionStarted,
		events.TypeUserMessageAdded,
		events.TypeLLMCallStarted,
		events.TypeLLMResponseReceived,
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionStarted,
		events.TypeToolExecutionCompleted,
		events.TypeLLMCallStarted,
		events.TypeLLMResponseReceived,
	}, log.types(stream))

	assert.Equal(t, 2, state.LLMCallCount)
	assert.Equal(t, 1, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)

	// Every tool lifecycle event carries the correlation trio.
	for _, eventType := range []string{
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionStarted,
		events.TypeToolExecutionCompleted,
	} {
		evts := log.eventsOfType(stream, eventType)
		require.Len(t, evts, 1, eventType)
		assert.Equal(t, "call_1", evts[0].Metadata[events.MetaToolID], eventType)
		assert.Equal(t, "call_1", evts[0].Metadata[events.MetaToolCallID], eventType)
		assert.EqualValues(t, 0, evts[0].Metadata[events.MetaToolIndex], eventType)
	}

	completed := log.eventsOfType(stream, events.TypeToolExecutionCompleted)
	result, ok := completed[0].Data["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sunny", result["weather"])
}

func TestProcessThreadToolFailureTerminates(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("backend unreachable")
	}, tools.PermissionSafe))
	e := New(log, model, reg, fastOptions())
	threadID, stream := startSession(t, e)

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	types := log.types(stream)
	assert.Equal(t, events.TypeToolExecutionFailed, types[len(types)-1])
	assert.Equal(t, 1, state.ErrorCount)

	failed := log.eventsOfType(stream, events.TypeToolExecutionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "ToolExecutionError: backend unreachable", failed[0].Data["error_message"])
	assert.EqualValues(t, 0, failed[0].Data["retry_count"])
}

func TestProcessThreadUnknownToolFails(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "no_such_tool", Arguments: map[string]any{}}),
	)
	e := New(log, model, emptyRegistry(t), fastOptions())
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	failed := log.eventsOfType(stream, events.TypeToolExecutionFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Data["error_message"], "ToolNotFoundError")
}

func TestProcessThreadRetriesThenSucceeds(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		errTurn(&llm.TransportError{Provider: "scripted", Err: errors.New("boom")}),
		textTurn("second time lucky"),
	)
	opts := fastOptions()
	opts.MaxRetries = 2
	e := New(log, model, emptyRegistry(t), opts)
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	assert.Equal(t, 2, model.callsMade())
	responses := log.eventsOfType(stream, events.TypeLLMResponseReceived)
	require.Len(t, responses, 1)
	assert.EqualValues(t, 1, responses[0].Metadata[events.MetaRetryCount])
	assert.Empty(t, log.eventsOfType(stream, events.TypeLLMCallFailed))
}

func TestProcessThreadRetryExhaustionWritesFailure(t *testing.T) {
	log := newMemLog()
	callErr := &llm.TransportError{Provider: "scripted", Err: errors.New("boom")}
	model := newScriptedModel(errTurn(callErr), errTurn(callErr), errTurn(callErr))
	opts := fastOptions()
	opts.MaxRetries = 2
	e := New(log, model, emptyRegistry(t), opts)
	threadID, stream := startSession(t, e)

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	// Initial attempt plus two retries.
	assert.Equal(t, 3, model.callsMade())

	failed := log.eventsOfType(stream, events.TypeLLMCallFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, callErr.Error(), failed[0].Data["error_message"])
	assert.EqualValues(t, 2, failed[0].Data["retry_count"])
	assert.Equal(t, "TransportError", failed[0].Metadata[events.MetaErrorType])

	// The failure verdict terminates the loop on the next iteration.
	assert.Equal(t, 1, state.ErrorCount)
	assert.Equal(t, projections.StatusActive, state.Status)
}

func TestProcessThreadMaxIterationsExceeded(t *testing.T) {
	log := newMemLog()
	// The model keeps asking for tools, so the loop never terminates.
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
		toolTurn(llm.ToolCall{ID: "call_2", Name: "lookup", Arguments: map[string]any{}}),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		return "ok", nil
	}, tools.PermissionSafe))
	opts := fastOptions()
	opts.MaxIterations = 3
	e := New(log, model, reg, opts)
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	var exceeded *MaxIterationsExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, threadID, exceeded.ThreadID)
	assert.Equal(t, 3, exceeded.MaxIterations)
}

func TestProcessThreadEmptyStream(t *testing.T) {
	e := New(newMemLog(), newScriptedModel(), emptyRegistry(t), fastOptions())

	_, err := e.ProcessThread(context.Background(), "missing", "agent:v0-missing")
	var procErr *ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Contains(t, procErr.Error(), "no events")
}

func TestProcessThreadResumesCompletedSession(t *testing.T) {
	log := newMemLog()
	e := New(log, newScriptedModel(), emptyRegistry(t), fastOptions())
	threadID, stream := startSession(t, e)
	require.NoError(t, e.TerminateSession(context.Background(), stream, "success"))

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)
	assert.Equal(t, projections.StatusCompleted, state.Status)
	// No model call was made: the first verdict is already Terminate.
	assert.Equal(t, 0, e.model.(*scriptedModel).callsMade())
}

func TestProcessThreadCancelledBetweenIterations(t *testing.T) {
	log := newMemLog()
	e := New(log, newScriptedModel(), emptyRegistry(t), fastOptions())
	threadID, stream := startSession(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ProcessThread(ctx, threadID, stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolStepAutoApproval(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
		textTurn("done"),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		return "ok", nil
	}, tools.PermissionRequiresApproval))
	opts := fastOptions()
	opts.AutoApproveTools = true
	e := New(log, model, reg, opts)
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	approvals := log.eventsOfType(stream, events.TypeToolExecutionApproved)
	require.Len(t, approvals, 1)
	assert.Equal(t, "auto", approvals[0].Data["approved_by"])
	assert.Equal(t, "call_1", approvals[0].Metadata[events.MetaToolCallID])

	// Approval precedes start and completion.
	assert.Equal(t, []string{
		events.TypeToolExecutionRequested,
		events.TypeToolExecutionApproved,
		events.TypeToolExecutionStarted,
		events.TypeToolExecutionCompleted,
	}, log.types(stream)[4:8])
}

func TestToolStepManualApprovalFromStream(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
		textTurn("done"),
	)
	executed := false
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		executed = true
		return "ok", nil
	}, tools.PermissionRequiresApproval))
	e := New(log, model, reg, fastOptions())
	threadID, stream := startSession(t, e)

	// An approval recorded by another process before the gate polls.
	approval, err := events.NewToolExecutionApproved("lookup", "operator")
	require.NoError(t, err)
	_, err = log.Append(context.Background(), stream, approval, events.ToolMeta{ToolID: "call_1"}.Map())
	require.NoError(t, err)

	_, err = e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	assert.True(t, executed)
	require.Len(t, log.eventsOfType(stream, events.TypeToolExecutionCompleted), 1)
	assert.Empty(t, log.eventsOfType(stream, events.TypeToolExecutionRejected))
}

func TestToolStepManualRejectionFromStream(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
	)
	executed := false
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		executed = true
		return "ok", nil
	}, tools.PermissionRequiresApproval))
	e := New(log, model, reg, fastOptions())
	threadID, stream := startSession(t, e)

	rejection, err := events.NewToolExecutionRejected("lookup", "operator", "not allowed")
	require.NoError(t, err)
	_, err = log.Append(context.Background(), stream, rejection, events.ToolMeta{ToolID: "call_1"}.Map())
	require.NoError(t, err)

	state, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	assert.False(t, executed)
	assert.Empty(t, log.eventsOfType(stream, events.TypeToolExecutionStarted))
	failed := log.eventsOfType(stream, events.TypeToolExecutionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "Tool execution rejected by permission system", failed[0].Data["error_message"])
	assert.Equal(t, 1, state.ErrorCount)
}

func TestToolStepApprovalTimeout(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(llm.ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{}}),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		return "ok", nil
	}, tools.PermissionDangerous))
	opts := fastOptions()
	opts.ApprovalTimeout = 5 * time.Millisecond
	opts.ApprovalPollInterval = time.Millisecond
	e := New(log, model, reg, opts)
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	rejections := log.eventsOfType(stream, events.TypeToolExecutionRejected)
	require.Len(t, rejections, 1)
	assert.Equal(t, "system", rejections[0].Data["rejected_by"])
	assert.Equal(t, "Approval timeout", rejections[0].Data["reason"])

	failed := log.eventsOfType(stream, events.TypeToolExecutionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "Tool execution rejected by permission system", failed[0].Data["error_message"])
}

func TestToolStepContinuesPastFailures(t *testing.T) {
	log := newMemLog()
	model := newScriptedModel(
		toolTurn(
			llm.ToolCall{ID: "call_1", Name: "no_such_tool", Arguments: map[string]any{}},
			llm.ToolCall{ID: "call_2", Name: "lookup", Arguments: map[string]any{}},
		),
	)
	reg := registryWith(t, lookupTool(func(_ context.Context, _ map[string]any) (any, error) {
		return "ok", nil
	}, tools.PermissionSafe))
	e := New(log, model, reg, fastOptions())
	threadID, stream := startSession(t, e)

	_, err := e.ProcessThread(context.Background(), threadID, stream)
	require.NoError(t, err)

	// The first call failed but the second still ran.
	completed := log.eventsOfType(stream, events.TypeToolExecutionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "lookup", completed[0].Data["tool_name"])
	assert.EqualValues(t, 1, completed[0].Metadata[events.MetaToolIndex])

	failed := log.eventsOfType(stream, events.TypeToolExecutionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "no_such_tool", failed[0].Data["tool_name"])
	assert.EqualValues(t, 0, failed[0].Metadata[events.MetaToolIndex])
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, DefaultMaxIterations, opts.MaxIterations)
	assert.Equal(t, DefaultMaxRetries, opts.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, opts.RetryDelay)
	assert.Equal(t, DefaultApprovalTimeout, opts.ApprovalTimeout)
	assert.Equal(t, DefaultApprovalPollInterval, opts.ApprovalPollInterval)
	assert.False(t, opts.AutoApproveTools)
}

func TestNewClampsMaxIterations(t *testing.T) {
	e := New(newMemLog(), newScriptedModel(), emptyRegistry(t), Options{})
	assert.Equal(t, DefaultMaxIterations, e.opts.MaxIterations)
}

func TestErrorTypeClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&llm.TransportError{Provider: "x", Err: errors.New("boom")}, "TransportError"},
		{&llm.ResponseError{Provider: "x", Reason: "empty"}, "ResponseError"},
		{fmt.Errorf("wrapped: %w", &llm.TransportError{Provider: "x", Err: errors.New("boom")}), "TransportError"},
		{errors.New("anything"), "Error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorType(tt.err))
	}
}
