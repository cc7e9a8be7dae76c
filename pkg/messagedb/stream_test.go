package messagedb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStreamName(t *testing.T) {
	stream, err := BuildStreamName("agent", "v0", "thread-123")
	require.NoError(t, err)
	assert.Equal(t, "agent:v0-thread-123", stream)
}

func TestBuildStreamNameRejectsBadComponents(t *testing.T) {
	tests := []struct {
		name     string
		category string
		version  string
		entityID string
	}{
		{"empty category", "", "v0", "abc"},
		{"empty version", "agent", "", "abc"},
		{"empty entity", "agent", "v0", ""},
		{"category with colon", "agent:x", "v0", "abc"},
		{"category with dash", "agent-x", "v0", "abc"},
		{"version with dash", "agent", "v-0", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildStreamName(tt.category, tt.version, tt.entityID)
			assert.Error(t, err)
		})
	}
}

func TestParseStreamName(t *testing.T) {
	parsed, err := ParseStreamName("agent:v0-thread-123")
	require.NoError(t, err)
	assert.Equal(t, "agent", parsed.Category)
	assert.Equal(t, "v0", parsed.Version)
	// Entity id keeps all dashes after the first separator
	assert.Equal(t, "thread-123", parsed.EntityID)
}

func TestParseStreamNameRoundTrip(t *testing.T) {
	threadID := GenerateThreadID()
	stream, err := BuildStreamName("displayPrefs", "v1", threadID)
	require.NoError(t, err)

	parsed, err := ParseStreamName(stream)
	require.NoError(t, err)
	assert.Equal(t, "displayPrefs", parsed.Category)
	assert.Equal(t, "v1", parsed.Version)
	assert.Equal(t, threadID, parsed.EntityID)
	assert.Equal(t, stream, parsed.String())
}

func TestParseStreamNameErrors(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"no entity id", "agent:v0"},
		{"trailing dash", "agent:v0-"},
		{"no colon", "agentv0-abc"},
		{"empty category", ":v0-abc"},
		{"empty version", "agent:-abc"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStreamName(tt.stream)
			assert.Error(t, err)
		})
	}
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, "agent:v0", CategoryOf("agent:v0-thread-123"))
	assert.Equal(t, "subscriberPosition", CategoryOf("subscriberPosition-sub-1"))
	// A bare category is its own category
	assert.Equal(t, "agent:v0", CategoryOf("agent:v0"))
}

func TestGenerateThreadID(t *testing.T) {
	a := GenerateThreadID()
	b := GenerateThreadID()

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	_, err = uuid.Parse(b)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
