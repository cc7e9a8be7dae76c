package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	assert.Equal(t, []string{"calculate", "echo", "get_current_time"}, reg.Names())

	decls := reg.Declarations()
	require.Len(t, decls, 3)
	assert.Equal(t, "get_current_time", decls[0].Name)
}

func TestGetCurrentTimeTool(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "get_current_time", nil)
	require.True(t, result.Success, result.ErrorMessage)

	stamp, ok := result.Value.(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, parsed.Location())
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestGetCurrentTimeRejectsOtherTimezones(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "get_current_time", map[string]any{"timezone": "America/New_York"})
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "only UTC")
}

func TestCalculateTool(t *testing.T) {
	x := newTestExecutor(t)

	result := x.Execute(context.Background(), "calculate", map[string]any{"expression": "6 * 7"})
	require.True(t, result.Success, result.ErrorMessage)
	assert.InDelta(t, 42.0, result.Value, 1e-9)
}
