// Package projections derives read models from event slices. Every function
// here is pure: no log access, no clock, and the same input always yields the
// same output. Callers read a stream first and hand the events in.
package projections

import (
	"encoding/json"
	"strings"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

// Conversation folds a thread's events into the message list for the next
// model call. Only UserMessageAdded, LLMResponseReceived and
// ToolExecutionCompleted contribute; every other type is loop bookkeeping.
// Malformed events are skipped, never fatal.
func Conversation(evts []events.Event) []llm.Message {
	messages := make([]llm.Message, 0, len(evts))
	for _, e := range evts {
		switch p := events.Decode(e).(type) {
		case events.UserMessageAdded:
			msg, err := llm.NewUserMessage(p.Message)
			if err != nil {
				continue
			}
			messages = append(messages, msg)
		case events.LLMResponseReceived:
			if msg, ok := assistantMessage(p); ok {
				messages = append(messages, msg)
			}
		case events.ToolExecutionCompleted:
			if msg, ok := toolMessage(e, p); ok {
				messages = append(messages, msg)
			}
		}
	}
	return messages
}

// assistantMessage maps a model response to an assistant turn. Tool calls
// missing an id or name are dropped individually; the whole event is dropped
// when neither text nor any usable tool call remains.
func assistantMessage(p events.LLMResponseReceived) (llm.Message, bool) {
	text := strings.TrimSpace(p.ResponseText)
	var calls []llm.ToolCall
	for _, tc := range p.ToolCalls {
		call, err := llm.NewToolCall(tc.ID, tc.Name, tc.Arguments)
		if err != nil {
			continue
		}
		calls = append(calls, call)
	}
	msg, err := llm.NewAssistantMessage(text, calls)
	if err != nil {
		return llm.Message{}, false
	}
	return msg, true
}

// toolMessage maps a completed execution to a tool-result turn. The text is
// the result itself when it is already a string, otherwise its JSON
// serialisation. The referenced call id comes from metadata, falling back to
// the tool name when absent.
func toolMessage(e events.Event, p events.ToolExecutionCompleted) (llm.Message, bool) {
	if p.ToolName == "" {
		return llm.Message{}, false
	}
	id, ok := events.ToolCallID(e.Metadata)
	if !ok {
		id = p.ToolName
	}
	msg, err := llm.NewToolMessage(id, p.ToolName, resultText(p.Result))
	if err != nil {
		return llm.Message{}, false
	}
	return msg, true
}

func resultText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(b)
}

// LastUserMessage returns the text of the most recent user turn, if any.
func LastUserMessage(evts []events.Event) (string, bool) {
	for i := len(evts) - 1; i >= 0; i-- {
		if p, ok := events.Decode(evts[i]).(events.UserMessageAdded); ok && p.Message != "" {
			return p.Message, true
		}
	}
	return "", false
}

// ConversationTurns counts completed user/assistant exchanges: the smaller of
// the user message count and the model response count.
func ConversationTurns(evts []events.Event) int {
	users, responses := 0, 0
	for _, e := range evts {
		switch e.Type {
		case events.TypeUserMessageAdded:
			users++
		case events.TypeLLMResponseReceived:
			responses++
		}
	}
	return min(users, responses)
}
