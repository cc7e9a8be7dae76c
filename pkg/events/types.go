// Package events defines the domain event catalogue: the envelope shared by
// every log record plus one typed payload per known event type.
//
// Events are immutable once appended. Readers receive the envelope with the
// raw JSON data/metadata maps; Decode maps an envelope to its typed payload
// so projections can switch on the variant. Unknown event types decode to
// Unknown and are ignored by every projection.
package events

import (
	"time"
)

// Event type names as they appear in the log.
const (
	TypeSessionStarted              = "SessionStarted"
	TypeUserMessageAdded            = "UserMessageAdded"
	TypeLLMCallStarted              = "LLMCallStarted"
	TypeLLMResponseReceived         = "LLMResponseReceived"
	TypeLLMCallFailed               = "LLMCallFailed"
	TypeToolExecutionRequested      = "ToolExecutionRequested"
	TypeToolExecutionStarted        = "ToolExecutionStarted"
	TypeToolExecutionCompleted      = "ToolExecutionCompleted"
	TypeToolExecutionFailed         = "ToolExecutionFailed"
	TypeToolExecutionApproved       = "ToolExecutionApproved"
	TypeToolExecutionRejected       = "ToolExecutionRejected"
	TypeSessionTerminationRequested = "SessionTerminationRequested"
	TypeSessionCompleted            = "SessionCompleted"
	TypeDisplayPreferenceUpdated    = "DisplayPreferenceUpdated"
	TypePositionUpdated             = "PositionUpdated"
)

// Metadata keys carried by tool lifecycle events. Every tool event carries
// all three; tool_call_id is the documented correlation key back to the
// model's request.
const (
	MetaToolID     = "tool_id"
	MetaToolCallID = "tool_call_id"
	MetaToolIndex  = "tool_index"
	MetaRetryCount = "retry_count"
	MetaErrorType  = "error_type"
)

// Event is the envelope of one log record.
type Event struct {
	ID             string         `json:"id"`
	StreamName     string         `json:"stream_name"`
	Type           string         `json:"type"`
	Position       int64          `json:"position"`        // zero-based, dense within the stream
	GlobalPosition int64          `json:"global_position"` // monotonic across the log, may skip
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Time           time.Time      `json:"time"` // UTC
}

// ToolCallRef identifies one model-requested tool invocation as recorded in
// LLMResponseReceived payloads.
type ToolCallRef struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolMeta is the correlation metadata written on every tool lifecycle event.
type ToolMeta struct {
	ToolID    string
	ToolIndex int
}

// Map renders the metadata trio for an append.
func (m ToolMeta) Map() map[string]any {
	return map[string]any{
		MetaToolID:     m.ToolID,
		MetaToolCallID: m.ToolID,
		MetaToolIndex:  m.ToolIndex,
	}
}

// ToolCallID extracts the correlation id from tool-event metadata, preferring
// tool_call_id and falling back to tool_id.
func ToolCallID(metadata map[string]any) (string, bool) {
	if metadata == nil {
		return "", false
	}
	if id, ok := metadata[MetaToolCallID].(string); ok && id != "" {
		return id, true
	}
	if id, ok := metadata[MetaToolID].(string); ok && id != "" {
		return id, true
	}
	return "", false
}
