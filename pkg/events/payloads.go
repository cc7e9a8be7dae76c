package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Payload is implemented by every typed event payload. EventType returns the
// log type name; Data renders the JSON data map for an append.
type Payload interface {
	EventType() string
	Data() map[string]any
}

// SessionStarted marks the creation of a session stream.
type SessionStarted struct {
	ThreadID string
}

// NewSessionStarted validates and builds a SessionStarted payload.
func NewSessionStarted(threadID string) (SessionStarted, error) {
	if threadID == "" {
		return SessionStarted{}, errors.New("thread_id must not be empty")
	}
	return SessionStarted{ThreadID: threadID}, nil
}

func (SessionStarted) EventType() string { return TypeSessionStarted }

func (p SessionStarted) Data() map[string]any {
	return map[string]any{"thread_id": p.ThreadID}
}

// UserMessageAdded records one user turn.
type UserMessageAdded struct {
	Message   string
	Timestamp time.Time
}

// NewUserMessageAdded validates and builds a UserMessageAdded payload.
// The message must be non-blank after trimming whitespace.
func NewUserMessageAdded(message string, at time.Time) (UserMessageAdded, error) {
	if strings.TrimSpace(message) == "" {
		return UserMessageAdded{}, errors.New("message must not be blank")
	}
	return UserMessageAdded{Message: message, Timestamp: at.UTC()}, nil
}

func (UserMessageAdded) EventType() string { return TypeUserMessageAdded }

func (p UserMessageAdded) Data() map[string]any {
	return map[string]any{
		"message":   p.Message,
		"timestamp": p.Timestamp.Format(time.RFC3339Nano),
	}
}

// LLMCallStarted records that a model call is about to be made.
type LLMCallStarted struct {
	MessageCount int
	ToolCount    int
}

// NewLLMCallStarted validates and builds an LLMCallStarted payload.
func NewLLMCallStarted(messageCount, toolCount int) (LLMCallStarted, error) {
	if messageCount < 0 || toolCount < 0 {
		return LLMCallStarted{}, errors.New("counts must be non-negative")
	}
	return LLMCallStarted{MessageCount: messageCount, ToolCount: toolCount}, nil
}

func (LLMCallStarted) EventType() string { return TypeLLMCallStarted }

func (p LLMCallStarted) Data() map[string]any {
	return map[string]any{
		"message_count": p.MessageCount,
		"tool_count":    p.ToolCount,
	}
}

// LLMResponseReceived is the canonical record of one completed model call.
// Either ResponseText or ToolCalls must be present.
type LLMResponseReceived struct {
	ResponseText string
	ToolCalls    []ToolCallRef
	ModelName    string
	TokenUsage   map[string]int
}

// NewLLMResponseReceived validates and builds an LLMResponseReceived payload.
func NewLLMResponseReceived(text string, toolCalls []ToolCallRef, modelName string, usage map[string]int) (LLMResponseReceived, error) {
	if modelName == "" {
		return LLMResponseReceived{}, errors.New("model_name must not be empty")
	}
	if text == "" && len(toolCalls) == 0 {
		return LLMResponseReceived{}, errors.New("response must carry text or tool calls")
	}
	for i, tc := range toolCalls {
		if tc.ID == "" || tc.Name == "" {
			return LLMResponseReceived{}, fmt.Errorf("tool call %d missing id or name", i)
		}
	}
	return LLMResponseReceived{ResponseText: text, ToolCalls: toolCalls, ModelName: modelName, TokenUsage: usage}, nil
}

func (LLMResponseReceived) EventType() string { return TypeLLMResponseReceived }

func (p LLMResponseReceived) Data() map[string]any {
	calls := make([]any, len(p.ToolCalls))
	for i, tc := range p.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls[i] = map[string]any{"id": tc.ID, "name": tc.Name, "arguments": args}
	}
	usage := map[string]any{}
	for k, v := range p.TokenUsage {
		usage[k] = v
	}
	return map[string]any{
		"response_text": p.ResponseText,
		"tool_calls":    calls,
		"model_name":    p.ModelName,
		"token_usage":   usage,
	}
}

// LLMCallFailed records a model call that exhausted its retry budget.
type LLMCallFailed struct {
	ErrorMessage string
	RetryCount   int
}

// NewLLMCallFailed validates and builds an LLMCallFailed payload.
func NewLLMCallFailed(errorMessage string, retryCount int) (LLMCallFailed, error) {
	if errorMessage == "" {
		return LLMCallFailed{}, errors.New("error_message must not be empty")
	}
	if retryCount < 0 {
		return LLMCallFailed{}, errors.New("retry_count must be non-negative")
	}
	return LLMCallFailed{ErrorMessage: errorMessage, RetryCount: retryCount}, nil
}

func (LLMCallFailed) EventType() string { return TypeLLMCallFailed }

func (p LLMCallFailed) Data() map[string]any {
	return map[string]any{
		"error_message": p.ErrorMessage,
		"retry_count":   p.RetryCount,
	}
}

// ToolExecutionRequested records the model's request for one tool call.
type ToolExecutionRequested struct {
	ToolName  string
	Arguments map[string]any
}

// NewToolExecutionRequested validates and builds a ToolExecutionRequested payload.
func NewToolExecutionRequested(toolName string, arguments map[string]any) (ToolExecutionRequested, error) {
	if toolName == "" {
		return ToolExecutionRequested{}, errors.New("tool_name must not be empty")
	}
	return ToolExecutionRequested{ToolName: toolName, Arguments: arguments}, nil
}

func (ToolExecutionRequested) EventType() string { return TypeToolExecutionRequested }

func (p ToolExecutionRequested) Data() map[string]any {
	return map[string]any{"tool_name": p.ToolName, "arguments": orEmpty(p.Arguments)}
}

// ToolExecutionStarted records that a tool function is being invoked.
type ToolExecutionStarted struct {
	ToolName  string
	Arguments map[string]any
}

// NewToolExecutionStarted validates and builds a ToolExecutionStarted payload.
func NewToolExecutionStarted(toolName string, arguments map[string]any) (ToolExecutionStarted, error) {
	if toolName == "" {
		return ToolExecutionStarted{}, errors.New("tool_name must not be empty")
	}
	return ToolExecutionStarted{ToolName: toolName, Arguments: arguments}, nil
}

func (ToolExecutionStarted) EventType() string { return TypeToolExecutionStarted }

func (p ToolExecutionStarted) Data() map[string]any {
	return map[string]any{"tool_name": p.ToolName, "arguments": orEmpty(p.Arguments)}
}

// ToolExecutionCompleted records a successful tool invocation. Result may be
// any JSON value.
type ToolExecutionCompleted struct {
	ToolName        string
	Result          any
	ExecutionTimeMS int64
}

// NewToolExecutionCompleted validates and builds a ToolExecutionCompleted payload.
func NewToolExecutionCompleted(toolName string, result any, executionTimeMS int64) (ToolExecutionCompleted, error) {
	if toolName == "" {
		return ToolExecutionCompleted{}, errors.New("tool_name must not be empty")
	}
	if executionTimeMS < 0 {
		return ToolExecutionCompleted{}, errors.New("execution_time_ms must be non-negative")
	}
	return ToolExecutionCompleted{ToolName: toolName, Result: result, ExecutionTimeMS: executionTimeMS}, nil
}

func (ToolExecutionCompleted) EventType() string { return TypeToolExecutionCompleted }

func (p ToolExecutionCompleted) Data() map[string]any {
	return map[string]any{
		"tool_name":         p.ToolName,
		"result":            p.Result,
		"execution_time_ms": p.ExecutionTimeMS,
	}
}

// ToolExecutionFailed records a tool invocation that errored.
type ToolExecutionFailed struct {
	ToolName     string
	ErrorMessage string
	RetryCount   int
}

// NewToolExecutionFailed validates and builds a ToolExecutionFailed payload.
func NewToolExecutionFailed(toolName, errorMessage string, retryCount int) (ToolExecutionFailed, error) {
	if toolName == "" {
		return ToolExecutionFailed{}, errors.New("tool_name must not be empty")
	}
	if errorMessage == "" {
		return ToolExecutionFailed{}, errors.New("error_message must not be empty")
	}
	return ToolExecutionFailed{ToolName: toolName, ErrorMessage: errorMessage, RetryCount: retryCount}, nil
}

func (ToolExecutionFailed) EventType() string { return TypeToolExecutionFailed }

func (p ToolExecutionFailed) Data() map[string]any {
	return map[string]any{
		"tool_name":     p.ToolName,
		"error_message": p.ErrorMessage,
		"retry_count":   p.RetryCount,
	}
}

// ToolExecutionApproved records an approval decision for a gated tool call.
type ToolExecutionApproved struct {
	ToolName   string
	ApprovedBy string
}

// NewToolExecutionApproved validates and builds a ToolExecutionApproved payload.
func NewToolExecutionApproved(toolName, approvedBy string) (ToolExecutionApproved, error) {
	if toolName == "" {
		return ToolExecutionApproved{}, errors.New("tool_name must not be empty")
	}
	if approvedBy == "" {
		return ToolExecutionApproved{}, errors.New("approved_by must not be empty")
	}
	return ToolExecutionApproved{ToolName: toolName, ApprovedBy: approvedBy}, nil
}

func (ToolExecutionApproved) EventType() string { return TypeToolExecutionApproved }

func (p ToolExecutionApproved) Data() map[string]any {
	return map[string]any{"tool_name": p.ToolName, "approved_by": p.ApprovedBy}
}

// ToolExecutionRejected records a rejection (or approval timeout) for a gated
// tool call.
type ToolExecutionRejected struct {
	ToolName   string
	RejectedBy string
	Reason     string
}

// NewToolExecutionRejected validates and builds a ToolExecutionRejected payload.
func NewToolExecutionRejected(toolName, rejectedBy, reason string) (ToolExecutionRejected, error) {
	if toolName == "" {
		return ToolExecutionRejected{}, errors.New("tool_name must not be empty")
	}
	if rejectedBy == "" {
		return ToolExecutionRejected{}, errors.New("rejected_by must not be empty")
	}
	return ToolExecutionRejected{ToolName: toolName, RejectedBy: rejectedBy, Reason: reason}, nil
}

func (ToolExecutionRejected) EventType() string { return TypeToolExecutionRejected }

func (p ToolExecutionRejected) Data() map[string]any {
	return map[string]any{
		"tool_name":   p.ToolName,
		"rejected_by": p.RejectedBy,
		"reason":      p.Reason,
	}
}

// SessionTerminationRequested asks the processing loop to stop the session.
type SessionTerminationRequested struct {
	Reason string
}

// NewSessionTerminationRequested builds a SessionTerminationRequested payload,
// defaulting the reason to "user_request".
func NewSessionTerminationRequested(reason string) SessionTerminationRequested {
	if reason == "" {
		reason = "user_request"
	}
	return SessionTerminationRequested{Reason: reason}
}

func (SessionTerminationRequested) EventType() string { return TypeSessionTerminationRequested }

func (p SessionTerminationRequested) Data() map[string]any {
	return map[string]any{"reason": p.Reason}
}

// SessionCompleted closes a session with a completion reason.
type SessionCompleted struct {
	CompletionReason string
}

// NewSessionCompleted validates and builds a SessionCompleted payload.
func NewSessionCompleted(completionReason string) (SessionCompleted, error) {
	if completionReason == "" {
		return SessionCompleted{}, errors.New("completion_reason must not be empty")
	}
	return SessionCompleted{CompletionReason: completionReason}, nil
}

func (SessionCompleted) EventType() string { return TypeSessionCompleted }

func (p SessionCompleted) Data() map[string]any {
	return map[string]any{"completion_reason": p.CompletionReason}
}

// DisplayPreferenceUpdated records a change to a thread's rendering
// preferences, kept on the thread's display-prefs side stream.
type DisplayPreferenceUpdated struct {
	Instruction         string
	MergedPreferences   string
	PreviousPreferences string
}

// NewDisplayPreferenceUpdated validates and builds a DisplayPreferenceUpdated payload.
func NewDisplayPreferenceUpdated(instruction, merged, previous string) (DisplayPreferenceUpdated, error) {
	if merged == "" {
		return DisplayPreferenceUpdated{}, errors.New("merged_preferences must not be empty")
	}
	return DisplayPreferenceUpdated{
		Instruction:         instruction,
		MergedPreferences:   merged,
		PreviousPreferences: previous,
	}, nil
}

func (DisplayPreferenceUpdated) EventType() string { return TypeDisplayPreferenceUpdated }

func (p DisplayPreferenceUpdated) Data() map[string]any {
	return map[string]any{
		"instruction":          p.Instruction,
		"merged_preferences":   p.MergedPreferences,
		"previous_preferences": p.PreviousPreferences,
	}
}

// PositionUpdated records a subscriber's durable read position on its
// subscriberPosition-<id> stream.
type PositionUpdated struct {
	SubscriberID string
	Position     int64
}

// NewPositionUpdated validates and builds a PositionUpdated payload.
func NewPositionUpdated(subscriberID string, position int64) (PositionUpdated, error) {
	if subscriberID == "" {
		return PositionUpdated{}, errors.New("subscriber_id must not be empty")
	}
	if position < 0 {
		return PositionUpdated{}, errors.New("position must be non-negative")
	}
	return PositionUpdated{SubscriberID: subscriberID, Position: position}, nil
}

func (PositionUpdated) EventType() string { return TypePositionUpdated }

func (p PositionUpdated) Data() map[string]any {
	return map[string]any{"subscriber_id": p.SubscriberID, "position": p.Position}
}

// Unknown wraps an event type the catalogue does not recognise. Projections
// ignore Unknown payloads.
type Unknown struct {
	Type string
	Raw  map[string]any
}

func (p Unknown) EventType() string    { return p.Type }
func (p Unknown) Data() map[string]any { return p.Raw }

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
