package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/engine"
	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
)

var banner = strings.Repeat("=", 80)

// printSummary prints the end-of-run session summary. The duration line
// appears only for sessions whose stream carries both lifecycle events.
func printSummary(w io.Writer, threadID string, state *projections.State) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, banner)
	fmt.Fprintln(w, "SESSION COMPLETE")
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "Thread ID: %s\n", threadID)
	fmt.Fprintf(w, "Status: %s\n", state.Status)
	fmt.Fprintf(w, "Messages: %d\n", state.MessageCount)
	fmt.Fprintf(w, "LLM Calls: %d\n", state.LLMCallCount)
	fmt.Fprintf(w, "Tool Calls: %d\n", state.ToolCallCount)
	fmt.Fprintf(w, "Errors: %d\n", state.ErrorCount)
	if !state.SessionStartTime.IsZero() && !state.SessionEndTime.IsZero() {
		fmt.Fprintf(w, "Duration: %.2fs\n", state.SessionEndTime.Sub(state.SessionStartTime).Seconds())
	}
}

// consumeProgress drains a streaming run, printing model text and tool
// activity as it arrives, and returns the final projected state. A Failure
// item ends the run with its error once the channel is drained.
func consumeProgress(w io.Writer, ch <-chan engine.Progress) (*projections.State, error) {
	var state *projections.State
	for p := range ch {
		switch p := p.(type) {
		case engine.AgentText:
			fmt.Fprint(w, p.Text)
		case engine.AgentDone:
			fmt.Fprintln(w)
		case engine.ToolStarted:
			fmt.Fprintf(w, "[Tool: %s]\n", p.Name)
		case engine.ToolCompleted:
			fmt.Fprintf(w, "[Tool %s completed]\n", p.Name)
		case engine.ToolFailed:
			fmt.Fprintf(w, "[Tool %s failed: %s]\n", p.Name, p.Error)
		case engine.StateResult:
			s := p.State
			state = &s
		case engine.Failure:
			for range ch {
			}
			return nil, p.Err
		}
	}
	if state == nil {
		return nil, fmt.Errorf("processing ended without a final state")
	}
	return state, nil
}

// showEventsText dumps the stream in numbered human-readable form followed
// by a projected session summary.
func showEventsText(w io.Writer, threadID, stream string, evs []events.Event, full bool) error {
	fmt.Fprintf(w, "Events for session: %s\n", threadID)
	fmt.Fprintf(w, "Stream: %s\n", stream)
	fmt.Fprintf(w, "Total events: %d\n", len(evs))
	fmt.Fprintln(w, banner)

	for _, e := range evs {
		fmt.Fprintf(w, "\n[%d] %s\n", e.Position, e.Type)
		fmt.Fprintf(w, "  ID: %s\n", e.ID)
		fmt.Fprintf(w, "  Time: %s\n", e.Time.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "  Global Position: %d\n", e.GlobalPosition)

		if len(e.Data) > 0 {
			fmt.Fprintln(w, "  Data:")
			for _, key := range sortedKeys(e.Data) {
				fmt.Fprintf(w, "    %s: %s\n", key, formatValue(e.Data[key], full))
			}
		}
		if full && len(e.Metadata) > 0 {
			fmt.Fprintln(w, "  Metadata:")
			for _, key := range sortedKeys(e.Metadata) {
				fmt.Fprintf(w, "    %s: %v\n", key, e.Metadata[key])
			}
		}
	}

	state, err := projections.SessionState(evs)
	if err != nil {
		return fmt.Errorf("projecting session state: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, banner)
	fmt.Fprintln(w, "SESSION SUMMARY")
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "Status: %s\n", state.Status)
	fmt.Fprintf(w, "Messages: %d\n", state.MessageCount)
	fmt.Fprintf(w, "LLM Calls: %d\n", state.LLMCallCount)
	fmt.Fprintf(w, "Tool Calls: %d\n", state.ToolCallCount)
	fmt.Fprintf(w, "Errors: %d\n", state.ErrorCount)
	return nil
}

// eventView is the JSON shape of one event in show --format json.
type eventView struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Position       int64          `json:"position"`
	GlobalPosition int64          `json:"global_position"`
	Time           string         `json:"time"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func showEventsJSON(w io.Writer, evs []events.Event, full bool) error {
	views := make([]eventView, 0, len(evs))
	for _, e := range evs {
		view := eventView{
			ID:             e.ID,
			Type:           e.Type,
			Position:       e.Position,
			GlobalPosition: e.GlobalPosition,
			Time:           e.Time.Format(time.RFC3339Nano),
			Data:           e.Data,
		}
		if full {
			view.Metadata = e.Metadata
		}
		views = append(views, view)
	}
	out, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// sessionRow pairs a stream with its projected state for listing.
type sessionRow struct {
	Stream       string
	LastActivity time.Time
	State        projections.State
}

// sessionSummary is the JSON shape of one session in list --format json.
type sessionSummary struct {
	ThreadID      string  `json:"thread_id"`
	StreamName    string  `json:"stream_name"`
	Status        string  `json:"status"`
	MessageCount  int     `json:"message_count"`
	LLMCallCount  int     `json:"llm_call_count"`
	ToolCallCount int     `json:"tool_call_count"`
	ErrorCount    int     `json:"error_count"`
	LastActivity  string  `json:"last_activity"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
}

func listSessionsJSON(w io.Writer, rows []sessionRow) error {
	summaries := make([]sessionSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, sessionSummary{
			ThreadID:      row.State.ThreadID,
			StreamName:    row.Stream,
			Status:        string(row.State.Status),
			MessageCount:  row.State.MessageCount,
			LLMCallCount:  row.State.LLMCallCount,
			ToolCallCount: row.State.ToolCallCount,
			ErrorCount:    row.State.ErrorCount,
			LastActivity:  row.LastActivity.Format(time.RFC3339Nano),
			StartTime:     timeField(row.State.SessionStartTime),
			EndTime:       timeField(row.State.SessionEndTime),
		})
	}
	out, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func listSessionsText(w io.Writer, categoryPrefix string, rows []sessionRow) {
	fmt.Fprintf(w, "Recent sessions (category: %s)\n", categoryPrefix)
	fmt.Fprintln(w, banner)
	fmt.Fprintf(w, "%-40s %-12s %-10s %-20s\n", "Thread ID", "Status", "Messages", "Last Activity")
	fmt.Fprintln(w, banner)
	for _, row := range rows {
		parsed, err := messagedb.ParseStreamName(row.Stream)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%-40s %-12s %-10d %-20s\n",
			parsed.EntityID,
			string(row.State.Status),
			row.State.MessageCount,
			row.LastActivity.Format("2006-01-02 15:04:05"),
		)
	}
}

// timeField renders an optional timestamp, nil when the event that would
// have set it never arrived.
func timeField(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

// formatValue renders one data value, truncating long output unless full.
func formatValue(v any, full bool) string {
	s := fmt.Sprintf("%v", v)
	if full {
		return s
	}
	runes := []rune(s)
	if len(runes) > 100 {
		return string(runes[:97]) + "..."
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
