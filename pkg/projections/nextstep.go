package projections

import (
	"errors"
	"fmt"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// StepKind is the action the processing loop takes next.
type StepKind string

const (
	CallModel    StepKind = "call_model"
	ExecuteTools StepKind = "execute_tools"
	Terminate    StepKind = "terminate"
)

// Verdict is the outcome of NextStep: the action to take, a reason for the
// processing log, the calls to run when Kind is ExecuteTools, and the
// offending type when the reason is "unknown_event_type".
type Verdict struct {
	Kind      StepKind
	Reason    string
	ToolCalls []events.ToolCallRef
	EventType string
}

// NextStep decides the loop's next action from the most recent event alone.
// Earlier events never influence the verdict; the last event is the complete
// record of where the session stands.
func NextStep(evts []events.Event) (Verdict, error) {
	if len(evts) == 0 {
		return Verdict{}, errors.New("cannot determine next step: no events")
	}
	last := evts[len(evts)-1]
	switch p := events.Decode(last).(type) {
	case events.UserMessageAdded:
		return Verdict{Kind: CallModel, Reason: "user_message_added"}, nil
	case events.LLMResponseReceived:
		if len(p.ToolCalls) > 0 {
			return Verdict{Kind: ExecuteTools, Reason: "llm_requested_tools", ToolCalls: p.ToolCalls}, nil
		}
		return Verdict{Kind: Terminate, Reason: "llm_response_complete"}, nil
	case events.LLMCallFailed:
		msg := p.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return Verdict{Kind: Terminate, Reason: "llm_call_failed: " + msg}, nil
	case events.ToolExecutionCompleted:
		return Verdict{Kind: CallModel, Reason: "tool_execution_completed"}, nil
	case events.ToolExecutionFailed:
		name := p.ToolName
		if name == "" {
			name = "unknown_tool"
		}
		msg := p.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return Verdict{Kind: Terminate, Reason: fmt.Sprintf("tool_execution_failed: %s - %s", name, msg)}, nil
	case events.SessionTerminationRequested:
		reason := p.Reason
		if reason == "" {
			reason = "user_requested"
		}
		return Verdict{Kind: Terminate, Reason: reason}, nil
	case events.SessionCompleted:
		reason := p.CompletionReason
		if reason == "" {
			reason = "session_already_completed"
		}
		return Verdict{Kind: Terminate, Reason: reason}, nil
	default:
		return Verdict{Kind: CallModel, Reason: "unknown_event_type", EventType: last.Type}, nil
	}
}

// ShouldTerminate reports whether the loop would stop given the stream as it
// stands. False for an empty stream: the loop has not started yet.
func ShouldTerminate(evts []events.Event) bool {
	v, err := NextStep(evts)
	return err == nil && v.Kind == Terminate
}

// StepCounts reports how many model calls and tool executions have completed
// so far.
func StepCounts(evts []events.Event) (llmCalls, toolExecutions int) {
	for _, e := range evts {
		switch e.Type {
		case events.TypeLLMResponseReceived:
			llmCalls++
		case events.TypeToolExecutionCompleted:
			toolExecutions++
		}
	}
	return llmCalls, toolExecutions
}
