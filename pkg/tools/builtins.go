package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RegisterBuiltins adds the standard utility tools: get_current_time, echo
// and calculate.
func RegisterBuiltins(reg *Registry) error {
	builtins := []Tool{
		{
			Name:        "get_current_time",
			Description: "Get the current date and time in ISO 8601 format",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "Timezone name (only UTC is supported)",
						"default":     "UTC",
					},
				},
			},
			Func: currentTimeTool,
		},
		{
			Name:        "echo",
			Description: "Echo a message back (useful for testing)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The message to echo back",
					},
				},
				"required": []any{"message"},
			},
			Func: echoTool,
		},
		{
			Name:        "calculate",
			Description: "Safely evaluate a mathematical expression (supports +, -, *, /, //, %, **)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "Mathematical expression to evaluate",
					},
				},
				"required": []any{"expression"},
			},
			Func: calculateTool,
		},
	}
	for _, tool := range builtins {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func currentTimeTool(_ context.Context, args map[string]any) (any, error) {
	tz := "UTC"
	if v, ok := args["timezone"].(string); ok && v != "" {
		tz = v
	}
	if tz != "UTC" {
		return nil, fmt.Errorf("timezone %q not supported; only UTC is available", tz)
	}
	return time.Now().UTC().Format(time.RFC3339Nano), nil
}

func echoTool(_ context.Context, args map[string]any) (any, error) {
	message, ok := args["message"].(string)
	if !ok {
		return nil, errors.New("message must be a string")
	}
	return message, nil
}

func calculateTool(_ context.Context, args map[string]any) (any, error) {
	expression, ok := args["expression"].(string)
	if !ok {
		return nil, errors.New("expression must be a string")
	}
	return Calculate(expression)
}
