// Package llm defines the model-agnostic client interface and message types
// shared by all model adapters.
package llm

import (
	"fmt"
	"strings"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// NewToolCall validates and builds a tool call. ID and Name must be
// non-blank.
func NewToolCall(id, name string, arguments map[string]any) (ToolCall, error) {
	if strings.TrimSpace(id) == "" {
		return ToolCall{}, fmt.Errorf("tool call id cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return ToolCall{}, fmt.Errorf("tool call name cannot be empty")
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	return ToolCall{ID: id, Name: name, Arguments: arguments}, nil
}

// ToolDeclaration describes a callable tool in a model-agnostic shape.
// Parameters is a JSON Schema object; adapters convert it to their API's
// native tool format.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// NewToolDeclaration validates and builds a tool declaration.
func NewToolDeclaration(name, description string, parameters map[string]any) (ToolDeclaration, error) {
	if strings.TrimSpace(name) == "" {
		return ToolDeclaration{}, fmt.Errorf("tool declaration name cannot be empty")
	}
	if strings.TrimSpace(description) == "" {
		return ToolDeclaration{}, fmt.Errorf("tool declaration description cannot be empty")
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return ToolDeclaration{Name: name, Description: description, Parameters: parameters}, nil
}

// TokenUsage reports token accounting for one model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Map renders usage in the event payload shape.
func (u TokenUsage) Map() map[string]any {
	return map[string]any{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.TotalTokens,
	}
}

// Message is one turn of a model conversation: a user or assistant text
// turn, an assistant turn carrying tool calls, or a tool-result turn. This
// is the shape projections produce; adapters convert it to their API format.
type Message struct {
	Role      Role
	Text      string
	ToolCalls []ToolCall

	// Tool-result fields, set only when Role is RoleTool.
	ToolCallID string
	ToolName   string
}

// NewUserMessage builds a user turn. Text must be non-blank.
func NewUserMessage(text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, fmt.Errorf("user message text cannot be empty")
	}
	return Message{Role: RoleUser, Text: text}, nil
}

// NewAssistantMessage builds an assistant turn; it needs text, tool calls,
// or both.
func NewAssistantMessage(text string, toolCalls []ToolCall) (Message, error) {
	if strings.TrimSpace(text) == "" && len(toolCalls) == 0 {
		return Message{}, fmt.Errorf("assistant message needs text or tool calls")
	}
	return Message{Role: RoleAssistant, Text: text, ToolCalls: toolCalls}, nil
}

// NewToolMessage builds a tool-result turn for the tool call it answers.
func NewToolMessage(toolCallID, toolName, text string) (Message, error) {
	if toolCallID == "" {
		return Message{}, fmt.Errorf("tool message needs a tool call id")
	}
	if toolName == "" {
		return Message{}, fmt.Errorf("tool message needs a tool name")
	}
	if text == "" {
		return Message{}, fmt.Errorf("tool message text cannot be empty")
	}
	return Message{Role: RoleTool, Text: text, ToolCallID: toolCallID, ToolName: toolName}, nil
}

// Validate re-checks a hand-assembled message against the constructor rules.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
		if strings.TrimSpace(m.Text) == "" && len(m.ToolCalls) == 0 {
			return fmt.Errorf("%s message needs text or tool calls", m.Role)
		}
	case RoleTool:
		if m.ToolCallID == "" || m.ToolName == "" {
			return fmt.Errorf("tool message needs tool_call_id and tool_name")
		}
		if m.Text == "" {
			return fmt.Errorf("tool message text cannot be empty")
		}
	default:
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	return nil
}

// Response is the complete reply of one model call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	ModelName string
	Usage     TokenUsage
}

// NewResponse validates and builds a response: the model name must be
// non-blank, and there must be text or at least one tool call.
func NewResponse(text string, toolCalls []ToolCall, modelName string, usage TokenUsage) (*Response, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("response model name cannot be empty")
	}
	if strings.TrimSpace(text) == "" && len(toolCalls) == 0 {
		return nil, fmt.Errorf("response needs text or tool calls")
	}
	return &Response{Text: text, ToolCalls: toolCalls, ModelName: modelName, Usage: usage}, nil
}

// HasToolCalls reports whether the model asked for tool executions.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
