package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystem(t *testing.T) {
	t.Run("embeds base prompt and search engine", func(t *testing.T) {
		got, err := NewComposer("  Be terse.  ", "bing").BuildSystem()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(got, "Be terse."))
		assert.Contains(t, got, `"engine": "bing"`)
		assert.Contains(t, got, "The default search engine is bing.")
		for _, label := range []string{"Thinking:", "Narration:", "Action:", "Result:"} {
			assert.Contains(t, got, label)
		}
		assert.Contains(t, got, `{"type": "await_user_input"}`)
		assert.Contains(t, got, `{"type": "done"}`)
	})

	t.Run("falls back to defaults", func(t *testing.T) {
		c := NewComposer("", " ")
		got, err := c.BuildSystem()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(got, DefaultBasePrompt))
		assert.Equal(t, "google", c.SearchEngine())
	})
}

func TestBuildObservation(t *testing.T) {
	c := NewComposer("", "google")

	t.Run("renders every input", func(t *testing.T) {
		got, err := c.BuildObservation(ObservationInput{
			Task:               "Find cats",
			EnvironmentSummary: "URL: https://example.com",
			ExtraContext:       "- Searched google for 'cats'.",
		})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(got, "Task: Find cats"))
		assert.Contains(t, got, "URL: https://example.com")
		assert.Contains(t, got, "- Searched google for 'cats'.")
		assert.NotContains(t, got, NoStatePlaceholder)
	})

	t.Run("missing state and context use placeholders", func(t *testing.T) {
		got, err := c.BuildObservation(ObservationInput{Task: "Find cats", EnvironmentSummary: "   "})
		require.NoError(t, err)

		assert.Contains(t, got, "No active state available yet.")
		assert.Contains(t, got, "No recent context.")
	})

	t.Run("template text is not interpreted from input", func(t *testing.T) {
		got, err := c.BuildObservation(ObservationInput{Task: "{{.Task}}"})
		require.NoError(t, err)
		assert.Contains(t, got, "Task: {{.Task}}")
	})
}

func TestBuildAnswer(t *testing.T) {
	got, err := NewComposer("", "").BuildAnswer(" Opening the page. ", `{"type":"done"}`, "All set.")
	require.NoError(t, err)

	assert.Equal(t, "Narration: Opening the page.\n\nAction: {\"type\":\"done\"}\n\nResult: All set.", got)
}
