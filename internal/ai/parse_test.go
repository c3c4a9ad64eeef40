package ai_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tommypj/ai-content-saas-backend/internal/ai"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{"plain object", `{"score": 80}`, map[string]any{"score": float64(80)}},
		{"json fence", "```json\n{\"score\": 81}\n```", map[string]any{"score": float64(81)}},
		{"bare fence", "```\n{\"score\": 82}\n```", map[string]any{"score": float64(82)}},
		{"single-line fence", "```{\"score\": 83}```", map[string]any{"score": float64(83)}},
		{"prose before object", `Sure! Here is the result: {"score": 84} Hope that helps.`, map[string]any{"score": float64(84)}},
		{"braces inside strings", `Result: {"title": "a {curly} \"title\"", "n": 1} trailing }`,
			map[string]any{"title": `a {curly} "title"`, "n": float64(1)}},
		{"nested objects", `note {"a": {"b": {"c": 1}}} end`,
			map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ai.ParseJSON(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSON_Garbage(t *testing.T) {
	_, err := ai.ParseJSON("I cannot help with that request.")
	require.Error(t, err)

	var pe *ai.ResponseParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "I cannot help with that request.", pe.Raw)
	assert.Error(t, pe.DirectErr)
	assert.Error(t, pe.ExtractErr)
	assert.ErrorIs(t, err, ai.ErrInvalidResponse)
	assert.Contains(t, pe.Detail(), "direct:")
	assert.Contains(t, pe.Detail(), "extracted:")
}

func TestParseJSON_UnbalancedObject(t *testing.T) {
	_, err := ai.ParseJSON(`here: {"score": 80, "issues": [`)
	var pe *ai.ResponseParseError
	require.True(t, errors.As(err, &pe))
}

func TestParseJSON_ArrayIsNotAnObject(t *testing.T) {
	_, err := ai.ParseJSON(`["a", "b"]`)
	require.Error(t, err)
}

func TestParseJSON_InvalidExtractedObject(t *testing.T) {
	_, err := ai.ParseJSON(`prefix {score: 80} suffix`)
	var pe *ai.ResponseParseError
	require.True(t, errors.As(err, &pe))
	assert.NotEqual(t, pe.DirectErr.Error(), pe.ExtractErr.Error())
}
