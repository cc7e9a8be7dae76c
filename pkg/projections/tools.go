package projections

import (
	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// PendingToolCalls extracts the tool calls of the most recent
// LLMResponseReceived, the set the loop has yet to execute. Nil when the
// stream has no model responses or the latest one requested nothing.
func PendingToolCalls(evts []events.Event) []events.ToolCallRef {
	for i := len(evts) - 1; i >= 0; i-- {
		if p, ok := events.Decode(evts[i]).(events.LLMResponseReceived); ok {
			return p.ToolCalls
		}
	}
	return nil
}

// ToolCallByName finds the first pending call for the named tool.
func ToolCallByName(evts []events.Event, name string) (events.ToolCallRef, bool) {
	for _, tc := range PendingToolCalls(evts) {
		if tc.Name == name {
			return tc, true
		}
	}
	return events.ToolCallRef{}, false
}

// AllToolNames lists the pending tool names in request order, duplicates
// included.
func AllToolNames(evts []events.Event) []string {
	calls := PendingToolCalls(evts)
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Name)
	}
	return names
}
