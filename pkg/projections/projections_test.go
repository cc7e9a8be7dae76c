package projections_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
)

func prefEvt(instruction, merged string) events.Event {
	return events.Event{
		StreamName: "display-prefs:7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Type:       events.TypeDisplayPreferenceUpdated,
		Data: map[string]any{
			"instruction":        instruction,
			"merged_preferences": merged,
		},
	}
}

func TestDisplayPrefs(t *testing.T) {
	assert.Equal(t, "default", projections.DisplayPrefs(nil))

	evts := []events.Event{
		prefEvt("compact view", "Show compact view"),
		prefEvt("red errors", "Show compact view. Highlight errors in red"),
	}
	assert.Equal(t, "Show compact view. Highlight errors in red", projections.DisplayPrefs(evts))
}

func TestDisplayPrefsSkipsEventsWithoutMergedValue(t *testing.T) {
	evts := []events.Event{
		prefEvt("compact view", "Show compact view"),
		prefEvt("broken", ""),
	}
	assert.Equal(t, "Show compact view", projections.DisplayPrefs(evts))
}

func TestPendingToolCalls(t *testing.T) {
	evts := []events.Event{
		userEvt("run both"),
		responseEvt("",
			map[string]any{"id": "c1", "name": "get_weather", "arguments": map[string]any{"city": "NYC"}},
			map[string]any{"id": "c2", "name": "get_current_time", "arguments": map[string]any{}},
		),
	}
	calls := projections.PendingToolCalls(evts)
	require.Len(t, calls, 2)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, map[string]any{"city": "NYC"}, calls[0].Arguments)

	assert.Nil(t, projections.PendingToolCalls(nil))
	assert.Nil(t, projections.PendingToolCalls([]events.Event{userEvt("nothing yet")}))
}

func TestPendingToolCallsUsesLatestResponse(t *testing.T) {
	evts := []events.Event{
		responseEvt("", map[string]any{"id": "c1", "name": "echo", "arguments": map[string]any{}}),
		toolCompletedEvt("echo", "ok"),
		responseEvt("all finished"),
	}
	assert.Nil(t, projections.PendingToolCalls(evts))
}

func TestToolCallByName(t *testing.T) {
	evts := []events.Event{
		responseEvt("",
			map[string]any{"id": "c1", "name": "echo", "arguments": map[string]any{"text": "a"}},
			map[string]any{"id": "c2", "name": "echo", "arguments": map[string]any{"text": "b"}},
		),
	}
	call, ok := projections.ToolCallByName(evts, "echo")
	require.True(t, ok)
	assert.Equal(t, "c1", call.ID)

	_, ok = projections.ToolCallByName(evts, "calculate")
	assert.False(t, ok)
}

func TestAllToolNamesKeepsRequestOrder(t *testing.T) {
	evts := []events.Event{
		responseEvt("",
			map[string]any{"id": "c1", "name": "get_weather", "arguments": map[string]any{}},
			map[string]any{"id": "c2", "name": "echo", "arguments": map[string]any{}},
			map[string]any{"id": "c3", "name": "echo", "arguments": map[string]any{}},
		),
	}
	assert.Equal(t, []string{"get_weather", "echo", "echo"}, projections.AllToolNames(evts))
	assert.Nil(t, projections.AllToolNames(nil))
}

func TestWithMetadata(t *testing.T) {
	evts := []events.Event{userEvt("one"), responseEvt("two")}
	evts[0].Position = 0
	evts[1].Position = 1

	result := projections.WithMetadata(evts, projections.Conversation)
	assert.Len(t, result.Value, 2)
	assert.Equal(t, 2, result.EventCount)
	require.NotNil(t, result.LastPosition)
	assert.EqualValues(t, 1, *result.LastPosition)
}

func TestWithMetadataEmptyInput(t *testing.T) {
	result := projections.WithMetadata(nil, projections.Conversation)
	assert.Empty(t, result.Value)
	assert.Equal(t, 0, result.EventCount)
	assert.Nil(t, result.LastPosition)
}
