package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserMessage(t *testing.T) {
	msg, err := NewUserMessage("hello")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Text)

	_, err = NewUserMessage("   ")
	assert.Error(t, err)
}

func TestNewAssistantMessage(t *testing.T) {
	// Text only
	msg, err := NewAssistantMessage("thinking...", nil)
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, msg.Role)

	// Tool calls only
	tc, err := NewToolCall("call_1", "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	msg, err = NewAssistantMessage("", []ToolCall{tc})
	require.NoError(t, err)
	assert.Len(t, msg.ToolCalls, 1)

	// Neither
	_, err = NewAssistantMessage("", nil)
	assert.Error(t, err)
}

func TestNewToolMessage(t *testing.T) {
	msg, err := NewToolMessage("call_1", "echo", `{"result":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call_1", msg.ToolCallID)
	assert.Equal(t, "echo", msg.ToolName)

	_, err = NewToolMessage("", "echo", "x")
	assert.Error(t, err)
	_, err = NewToolMessage("call_1", "", "x")
	assert.Error(t, err)
	_, err = NewToolMessage("call_1", "echo", "")
	assert.Error(t, err)
}

func TestMessageValidate(t *testing.T) {
	assert.Error(t, Message{Role: "system", Text: "x"}.Validate())
	assert.Error(t, Message{Role: RoleUser}.Validate())
	assert.Error(t, Message{Role: RoleTool, Text: "x", ToolCallID: "c"}.Validate())
	assert.NoError(t, Message{Role: RoleTool, Text: "x", ToolCallID: "c", ToolName: "echo"}.Validate())
}

func TestNewToolCallValidation(t *testing.T) {
	_, err := NewToolCall(" ", "echo", nil)
	assert.Error(t, err)
	_, err = NewToolCall("call_1", "", nil)
	assert.Error(t, err)

	tc, err := NewToolCall("call_1", "echo", nil)
	require.NoError(t, err)
	// nil arguments normalise to an empty map
	assert.NotNil(t, tc.Arguments)
}

func TestNewToolDeclaration(t *testing.T) {
	decl, err := NewToolDeclaration("echo", "Echoes the message back", map[string]any{
		"type":       "object",
		"properties": map[string]any{"message": map[string]any{"type": "string"}},
		"required":   []any{"message"},
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", decl.Name)

	_, err = NewToolDeclaration("", "desc", nil)
	assert.Error(t, err)
	_, err = NewToolDeclaration("echo", "  ", nil)
	assert.Error(t, err)

	// nil parameters normalise to an empty object schema
	decl, err = NewToolDeclaration("noop", "Does nothing", nil)
	require.NoError(t, err)
	assert.Equal(t, "object", decl.Parameters["type"])
}

func TestNewResponse(t *testing.T) {
	resp, err := NewResponse("hi", nil, "claude-sonnet-4-5", TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	require.NoError(t, err)
	assert.False(t, resp.HasToolCalls())

	tc, err := NewToolCall("call_1", "echo", nil)
	require.NoError(t, err)
	resp, err = NewResponse("", []ToolCall{tc}, "claude-sonnet-4-5", TokenUsage{})
	require.NoError(t, err)
	assert.True(t, resp.HasToolCalls())

	_, err = NewResponse("", nil, "claude-sonnet-4-5", TokenUsage{})
	assert.Error(t, err)
	_, err = NewResponse("hi", nil, " ", TokenUsage{})
	assert.Error(t, err)
}

func TestTokenUsageMap(t *testing.T) {
	m := TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}.Map()
	assert.Equal(t, 100, m["input_tokens"])
	assert.Equal(t, 50, m["output_tokens"])
	assert.Equal(t, 150, m["total_tokens"])
}

func TestApplyOptions(t *testing.T) {
	decl, err := NewToolDeclaration("echo", "Echoes", nil)
	require.NoError(t, err)

	o := ApplyOptions(
		WithTools([]ToolDeclaration{decl}),
		WithSystemPrompt("be brief"),
		WithMaxTokens(512),
		WithTemperature(0.2),
	)
	assert.Len(t, o.Tools, 1)
	assert.Equal(t, "be brief", o.SystemPrompt)
	assert.Equal(t, 512, o.MaxTokens)
	require.NotNil(t, o.Temperature)
	assert.Equal(t, 0.2, *o.Temperature)

	// Defaults
	o = ApplyOptions()
	assert.Nil(t, o.Tools)
	assert.Zero(t, o.MaxTokens)
	assert.Nil(t, o.Temperature)
}
