package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, extra ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	for _, tool := range extra {
		require.NoError(t, reg.Register(tool))
	}
	return NewExecutor(reg)
}

func TestExecuteSuccess(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "echo", map[string]any{"message": "hello"})
	assert.True(t, result.Success)
	assert.Equal(t, "echo", result.ToolName)
	assert.Equal(t, "hello", result.Value)
	assert.Empty(t, result.ErrorMessage)
	assert.GreaterOrEqual(t, result.ExecutionTime, time.Duration(0))
}

func TestExecuteUnknownTool(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "no_such_tool", nil)
	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.ErrorMessage, "ToolNotFoundError: "), result.ErrorMessage)
	assert.Contains(t, result.ErrorMessage, "no_such_tool")
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	x := newTestExecutor(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required field", map[string]any{}},
		{"wrong field type", map[string]any{"message": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := x.Execute(context.Background(), "echo", tt.args)
			assert.False(t, result.Success)
			assert.True(t, strings.HasPrefix(result.ErrorMessage, "InvalidArgumentsError: "), result.ErrorMessage)
		})
	}
}

func TestExecuteCapturesToolErrors(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "calculate", map[string]any{"expression": "1/0"})
	assert.False(t, result.Success)
	assert.Equal(t, "ToolExecutionError: division by zero", result.ErrorMessage)
	assert.Nil(t, result.Value)
}

func TestExecuteCapturesPanics(t *testing.T) {
	x := newTestExecutor(t, Tool{
		Name:        "explode",
		Description: "panics on purpose",
		Func: func(_ context.Context, _ map[string]any) (any, error) {
			panic("kaboom")
		},
	})

	result := x.Execute(context.Background(), "explode", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "PanicError: kaboom", result.ErrorMessage)
}

func TestExecuteTimesTheInvocation(t *testing.T) {
	x := newTestExecutor(t, Tool{
		Name:        "slow",
		Description: "sleeps briefly",
		Func: func(_ context.Context, _ map[string]any) (any, error) {
			time.Sleep(10 * time.Millisecond)
			return "done", nil
		},
	})

	result := x.Execute(context.Background(), "slow", nil)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.ExecutionTime, 10*time.Millisecond)
}

func TestExecuteBatchContinuesPastFailures(t *testing.T) {
	x := newTestExecutor(t, Tool{
		Name:        "failing",
		Description: "always errors",
		Func: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("nope")
		},
	})

	results := x.ExecuteBatch(context.Background(), []Call{
		{Name: "echo", Arguments: map[string]any{"message": "first"}},
		{Name: "failing"},
		{Name: ""},
		{Name: "echo", Arguments: map[string]any{"message": "last"}},
	})
	require.Len(t, results, 4)

	assert.True(t, results[0].Success)
	assert.Equal(t, "first", results[0].Value)

	assert.False(t, results[1].Success)
	assert.Equal(t, "ToolExecutionError: nope", results[1].ErrorMessage)

	assert.False(t, results[2].Success)
	assert.Equal(t, "<unknown>", results[2].ToolName)

	assert.True(t, results[3].Success)
	assert.Equal(t, "last", results[3].Value)
}
