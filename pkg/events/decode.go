package events

import (
	"time"
)

// Decode maps an envelope to its typed payload. Decoding is tolerant: missing
// or mistyped fields yield zero values, and unrecognised event types yield
// Unknown. Validation belongs to the write path (the New* constructors), not
// here — the log is the source of truth and replays must never fail.
func Decode(e Event) Payload {
	switch e.Type {
	case TypeSessionStarted:
		return SessionStarted{ThreadID: str(e.Data, "thread_id")}
	case TypeUserMessageAdded:
		return UserMessageAdded{
			Message:   str(e.Data, "message"),
			Timestamp: timestamp(e.Data, "timestamp"),
		}
	case TypeLLMCallStarted:
		return LLMCallStarted{
			MessageCount: integer(e.Data, "message_count"),
			ToolCount:    integer(e.Data, "tool_count"),
		}
	case TypeLLMResponseReceived:
		return LLMResponseReceived{
			ResponseText: str(e.Data, "response_text"),
			ToolCalls:    DecodeToolCalls(e.Data["tool_calls"]),
			ModelName:    str(e.Data, "model_name"),
			TokenUsage:   usage(e.Data, "token_usage"),
		}
	case TypeLLMCallFailed:
		return LLMCallFailed{
			ErrorMessage: str(e.Data, "error_message"),
			RetryCount:   integer(e.Data, "retry_count"),
		}
	case TypeToolExecutionRequested:
		return ToolExecutionRequested{
			ToolName:  str(e.Data, "tool_name"),
			Arguments: objectMap(e.Data, "arguments"),
		}
	case TypeToolExecutionStarted:
		return ToolExecutionStarted{
			ToolName:  str(e.Data, "tool_name"),
			Arguments: objectMap(e.Data, "arguments"),
		}
	case TypeToolExecutionCompleted:
		var result any
		if e.Data != nil {
			result = e.Data["result"]
		}
		return ToolExecutionCompleted{
			ToolName:        str(e.Data, "tool_name"),
			Result:          result,
			ExecutionTimeMS: integer64(e.Data, "execution_time_ms"),
		}
	case TypeToolExecutionFailed:
		return ToolExecutionFailed{
			ToolName:     str(e.Data, "tool_name"),
			ErrorMessage: str(e.Data, "error_message"),
			RetryCount:   integer(e.Data, "retry_count"),
		}
	case TypeToolExecutionApproved:
		return ToolExecutionApproved{
			ToolName:   str(e.Data, "tool_name"),
			ApprovedBy: str(e.Data, "approved_by"),
		}
	case TypeToolExecutionRejected:
		return ToolExecutionRejected{
			ToolName:   str(e.Data, "tool_name"),
			RejectedBy: str(e.Data, "rejected_by"),
			Reason:     str(e.Data, "reason"),
		}
	case TypeSessionTerminationRequested:
		return SessionTerminationRequested{Reason: str(e.Data, "reason")}
	case TypeSessionCompleted:
		return SessionCompleted{CompletionReason: str(e.Data, "completion_reason")}
	case TypeDisplayPreferenceUpdated:
		return DisplayPreferenceUpdated{
			Instruction:         str(e.Data, "instruction"),
			MergedPreferences:   str(e.Data, "merged_preferences"),
			PreviousPreferences: str(e.Data, "previous_preferences"),
		}
	case TypePositionUpdated:
		return PositionUpdated{
			SubscriberID: str(e.Data, "subscriber_id"),
			Position:     integer64(e.Data, "position"),
		}
	default:
		return Unknown{Type: e.Type, Raw: e.Data}
	}
}

// DecodeToolCalls parses the tool_calls value of an LLMResponseReceived data
// map. Entries missing an id or name are dropped.
func DecodeToolCalls(v any) []ToolCallRef {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	calls := make([]ToolCallRef, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tc := ToolCallRef{
			ID:        str(m, "id"),
			Name:      str(m, "name"),
			Arguments: objectMap(m, "arguments"),
		}
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		calls = append(calls, tc)
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// integer coerces a JSON number. encoding/json decodes numbers in
// map[string]any as float64; locally-built maps may hold int or int64.
func integer(m map[string]any, key string) int {
	return int(integer64(m, key))
}

func integer64(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func timestamp(m map[string]any, key string) time.Time {
	s := str(m, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func objectMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	obj, _ := m[key].(map[string]any)
	return obj
}

func usage(m map[string]any, key string) map[string]int {
	obj := objectMap(m, key)
	if len(obj) == 0 {
		return map[string]int{}
	}
	out := make(map[string]int, len(obj))
	for k := range obj {
		out[k] = integer(obj, k)
	}
	return out
}
