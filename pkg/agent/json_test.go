package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, extractJSON(`{"name":"x"}`, &out))
	assert.Equal(t, "x", out.Name)
}

func TestExtractJSONWrappedInProse(t *testing.T) {
	var out struct {
		SkillID string `json:"skill_id"`
	}
	text := "Sure! Here is the routing decision:\n```json\n{\"skill_id\": \"abc\"}\n```\nLet me know if you need anything else."
	require.NoError(t, extractJSON(text, &out))
	assert.Equal(t, "abc", out.SkillID)
}

func TestExtractJSONRepairsSloppyOutput(t *testing.T) {
	var out struct {
		Steps []struct {
			Name string `json:"name"`
		} `json:"steps"`
	}
	// Trailing comma and unquoted key, the usual model sloppiness.
	text := `{steps: [{"name": "one"},],}`
	require.NoError(t, extractJSON(text, &out))
	require.Len(t, out.Steps, 1)
	assert.Equal(t, "one", out.Steps[0].Name)
}

func TestExtractJSONErrors(t *testing.T) {
	var out map[string]any
	assert.Error(t, extractJSON("", &out))
	assert.Error(t, extractJSON("   ", &out))
	assert.Error(t, extractJSON("no braces here", &out))
}
