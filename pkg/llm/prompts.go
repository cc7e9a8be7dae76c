package llm

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt frames the agent for its event-sourced environment.
const DefaultSystemPrompt = `You are an autonomous AI agent operating in an event-sourced architecture.

Your interactions are recorded as immutable events in a persistent event stream. This means:
- All your decisions, actions, and tool calls are permanently recorded
- The conversation can be replayed and analyzed at any time
- Multiple observers may process the same event stream simultaneously
- Your actions should be deliberate, well-reasoned, and traceable

Core Principles:
1. **Transparency**: Explain your reasoning clearly before taking actions
2. **Reliability**: Be consistent and predictable in your responses
3. **Tool Use**: Use available tools when they can help accomplish tasks
4. **Efficiency**: Be concise but thorough in your responses
5. **Safety**: Consider the implications of your actions before executing them

When using tools:
- Only call tools when necessary to accomplish the user's request
- Validate tool parameters before calling
- Explain what the tool will do before calling it
- Handle tool errors gracefully and inform the user

Remember: Every message you send becomes part of the permanent event history.`

// MinimalSystemPrompt suits tests and simple sessions.
const MinimalSystemPrompt = `You are a helpful AI assistant. Be concise and accurate.`

// ToolFocusedSystemPrompt biases the agent toward tool use.
const ToolFocusedSystemPrompt = `You are an AI agent with access to various tools and functions.

Your primary job is to:
1. Understand what the user needs
2. Determine which tools can help accomplish the task
3. Call the appropriate tools with correct parameters
4. Synthesize tool results into helpful responses

Always prefer using tools over trying to answer from memory when tools are available.
When you call a tool, briefly explain why you're calling it and what you expect to learn.`

// BuildSystemPrompt extends a base prompt with extra instructions and an
// available-tool listing.
func BuildSystemPrompt(base, extra string, tools []string) string {
	parts := []string{base}

	if extra != "" {
		parts = append(parts, fmt.Sprintf("\n\nAdditional Instructions:\n%s", extra))
	}

	if len(tools) > 0 {
		lines := make([]string, len(tools))
		for i, tool := range tools {
			lines[i] = "- " + tool
		}
		parts = append(parts, fmt.Sprintf("\n\nAvailable Tools:\n%s", strings.Join(lines, "\n")))
	}

	return strings.Join(parts, "\n")
}

// PromptForTask returns the recommended system prompt for a task type:
// default, minimal, tool_focused, or analytical.
func PromptForTask(task string) (string, error) {
	switch task {
	case "default":
		return DefaultSystemPrompt, nil
	case "minimal":
		return MinimalSystemPrompt, nil
	case "tool_focused":
		return ToolFocusedSystemPrompt, nil
	case "analytical":
		return BuildSystemPrompt(DefaultSystemPrompt,
			"Focus on analytical thinking and problem-solving. "+
				"Break down complex problems into steps. "+
				"Show your reasoning process clearly.", nil), nil
	default:
		return "", fmt.Errorf("unknown task type %q; valid types: default, minimal, tool_focused, analytical", task)
	}
}
