package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(MinimalSystemPrompt, "Answer in French.", []string{"echo", "calculate"})

	assert.True(t, strings.HasPrefix(prompt, MinimalSystemPrompt))
	assert.Contains(t, prompt, "Additional Instructions:\nAnswer in French.")
	assert.Contains(t, prompt, "Available Tools:\n- echo\n- calculate")
}

func TestBuildSystemPromptBaseOnly(t *testing.T) {
	assert.Equal(t, DefaultSystemPrompt, BuildSystemPrompt(DefaultSystemPrompt, "", nil))
}

func TestPromptForTask(t *testing.T) {
	for _, task := range []string{"default", "minimal", "tool_focused", "analytical"} {
		prompt, err := PromptForTask(task)
		require.NoError(t, err, task)
		assert.NotEmpty(t, prompt, task)
	}

	prompt, err := PromptForTask("analytical")
	require.NoError(t, err)
	assert.Contains(t, prompt, "analytical thinking")

	_, err = PromptForTask("poetic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool_focused")
}
